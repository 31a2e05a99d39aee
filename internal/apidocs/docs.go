// Package apidocs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/zimage/main.go -o internal/apidocs
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "z-image-studio maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {
            "get": {
                "tags": [
                    "models"
                ],
                "summary": "Available model precisions with hardware recommendations",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/types.ModelsResponse"
                        }
                    }
                }
            }
        },
        "/loras": {
            "get": {
                "tags": [
                    "loras"
                ],
                "summary": "Registered LoRA files",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/types.Lora"
                            }
                        }
                    },
                    "500": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "loras"
                ],
                "summary": "Upload a LoRA file",
                "consumes": [
                    "multipart/form-data"
                ],
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "file",
                        "description": "safetensors file",
                        "name": "file",
                        "in": "formData",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "display name",
                        "name": "display_name",
                        "in": "formData"
                    },
                    {
                        "type": "string",
                        "description": "trigger word",
                        "name": "trigger_word",
                        "in": "formData"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/types.UploadLoraResponse"
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/loras/{id}": {
            "delete": {
                "tags": [
                    "loras"
                ],
                "summary": "Delete a LoRA file and its record",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "LoRA id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/types.MessageResponse"
                        }
                    },
                    "404": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/generate": {
            "post": {
                "tags": [
                    "generate"
                ],
                "summary": "Generate an image",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "generation request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/types.GenerateRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/types.GenerateResponse"
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    },
                    "415": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    },
                    "429": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    },
                    "503": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/history": {
            "get": {
                "tags": [
                    "history"
                ],
                "summary": "Succeeded generations, newest first",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "default": 20,
                        "description": "page size",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "default": 0,
                        "description": "page offset",
                        "name": "offset",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/types.HistoryItem"
                            }
                        },
                        "headers": {
                            "X-Total-Count": {
                                "type": "integer",
                                "description": "total succeeded generations"
                            },
                            "X-Page-Size": {
                                "type": "integer",
                                "description": "page size"
                            },
                            "X-Page-Offset": {
                                "type": "integer",
                                "description": "page offset"
                            }
                        }
                    },
                    "400": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/history/{id}": {
            "delete": {
                "tags": [
                    "history"
                ],
                "summary": "Delete a generation and its image",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "generation id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/types.MessageResponse"
                        }
                    },
                    "404": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "error",
                        "schema": {
                            "$ref": "#/definitions/types.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/status": {
            "get": {
                "tags": [
                    "status"
                ],
                "summary": "Manager and pipeline state",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/types.StatusResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "types.LoraInput": {
            "type": "object",
            "properties": {
                "filename": {
                    "type": "string",
                    "example": "watercolor.safetensors"
                },
                "strength": {
                    "type": "number",
                    "example": 1
                }
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "prompt": {
                    "type": "string",
                    "example": "a lighthouse at dusk, oil painting"
                },
                "steps": {
                    "type": "integer",
                    "example": 9
                },
                "width": {
                    "type": "integer",
                    "example": 1280
                },
                "height": {
                    "type": "integer",
                    "example": 720
                },
                "seed": {
                    "type": "integer",
                    "example": 42
                },
                "precision": {
                    "type": "string",
                    "example": "q8"
                },
                "loras": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/types.LoraInput"
                    }
                }
            }
        },
        "types.GenerateResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer",
                    "example": 17
                },
                "image_url": {
                    "type": "string",
                    "example": "/outputs/a_lighthouse_at_dusk_1700000000.png"
                },
                "generation_time": {
                    "type": "number",
                    "example": 12.41
                },
                "width": {
                    "type": "integer",
                    "example": 1280
                },
                "height": {
                    "type": "integer",
                    "example": 720
                },
                "file_size_kb": {
                    "type": "number",
                    "example": 1432.5
                },
                "seed": {
                    "type": "integer",
                    "example": 42
                },
                "precision": {
                    "type": "string",
                    "example": "q8"
                },
                "model_id": {
                    "type": "string",
                    "example": "Disty0/Z-Image-Turbo-SDNQ-int8"
                },
                "loras": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/types.LoraInput"
                    }
                },
                "retried": {
                    "type": "boolean"
                }
            }
        },
        "types.ModelInfo": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string",
                    "example": "q8"
                },
                "precision": {
                    "type": "string",
                    "example": "q8"
                },
                "hf_model_id": {
                    "type": "string",
                    "example": "Disty0/Z-Image-Turbo-SDNQ-int8"
                },
                "available": {
                    "type": "boolean",
                    "example": true
                },
                "recommended": {
                    "type": "boolean",
                    "example": true
                }
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "device": {
                    "type": "string",
                    "example": "cuda"
                },
                "ram_gb": {
                    "type": "number",
                    "example": 32
                },
                "vram_gb": {
                    "type": "number",
                    "example": 12
                },
                "default_precision": {
                    "type": "string",
                    "example": "q8"
                },
                "models": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/types.ModelInfo"
                    }
                }
            }
        },
        "types.Lora": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer",
                    "example": 3
                },
                "filename": {
                    "type": "string",
                    "example": "watercolor.safetensors"
                },
                "display_name": {
                    "type": "string",
                    "example": "Watercolor"
                },
                "trigger_word": {
                    "type": "string",
                    "example": "wtrclr style"
                },
                "hash": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string",
                    "example": "2025-01-01 10:00:00"
                }
            }
        },
        "types.HistoryLora": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "filename": {
                    "type": "string"
                },
                "display_name": {
                    "type": "string"
                },
                "strength": {
                    "type": "number"
                }
            }
        },
        "types.HistoryItem": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer",
                    "example": 17
                },
                "prompt": {
                    "type": "string"
                },
                "steps": {
                    "type": "integer",
                    "example": 9
                },
                "width": {
                    "type": "integer",
                    "example": 1280
                },
                "height": {
                    "type": "integer",
                    "example": 720
                },
                "seed": {
                    "type": "integer",
                    "example": 42
                },
                "model": {
                    "type": "string",
                    "example": "Disty0/Z-Image-Turbo-SDNQ-int8"
                },
                "precision": {
                    "type": "string",
                    "example": "q8"
                },
                "status": {
                    "type": "string",
                    "example": "succeeded"
                },
                "filename": {
                    "type": "string"
                },
                "error_message": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string"
                },
                "generation_time": {
                    "type": "number"
                },
                "file_size_kb": {
                    "type": "number"
                },
                "loras": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/types.HistoryLora"
                    }
                }
            }
        },
        "types.PipelineStatus": {
            "type": "object",
            "properties": {
                "precision": {
                    "type": "string",
                    "example": "q8"
                },
                "model_id": {
                    "type": "string"
                },
                "device": {
                    "type": "string",
                    "example": "cuda"
                },
                "dtype": {
                    "type": "string",
                    "example": "bfloat16"
                },
                "compiled": {
                    "type": "boolean"
                },
                "built_at_unix": {
                    "type": "integer"
                }
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {
                    "type": "string",
                    "example": "ready"
                },
                "queue_len": {
                    "type": "integer",
                    "example": 0
                },
                "pipeline": {
                    "$ref": "#/definitions/types.PipelineStatus"
                },
                "builds_total": {
                    "type": "integer",
                    "example": 1
                },
                "runner_pid": {
                    "type": "integer"
                },
                "runner_url": {
                    "type": "string"
                },
                "last_error": {
                    "type": "string"
                },
                "uptime_seconds": {
                    "type": "integer"
                },
                "server_time_unix": {
                    "type": "integer"
                }
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string",
                    "example": "Maximum 4 LoRAs allowed."
                },
                "code": {
                    "type": "integer",
                    "example": 400
                }
            }
        },
        "types.MessageResponse": {
            "type": "object",
            "properties": {
                "message": {
                    "type": "string",
                    "example": "LoRA deleted"
                }
            }
        },
        "types.UploadLoraResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "integer"
                },
                "filename": {
                    "type": "string"
                },
                "display_name": {
                    "type": "string"
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "zimage API",
	Description:      "Local text-to-image studio: generation, LoRA management and history.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
