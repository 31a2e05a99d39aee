package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"zimage/pkg/types"
)

type api struct {
	svc Service
}

// models godoc
//
//	@Summary	Available model precisions with hardware recommendations
//	@Tags		models
//	@Produce	json
//	@Success	200	{object}	types.ModelsResponse
//	@Router		/models [get]
func (a *api) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Models(r.Context()))
}

// listLoras godoc
//
//	@Summary	Registered LoRA files
//	@Tags		loras
//	@Produce	json
//	@Success	200	{array}		types.Lora
//	@Failure	500	{object}	types.ErrorResponse
//	@Router		/loras [get]
func (a *api) listLoras(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Loras(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// uploadLora godoc
//
//	@Summary	Upload a LoRA file
//	@Tags		loras
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file			formData	file	true	"safetensors file"
//	@Param		display_name	formData	string	false	"display name"
//	@Param		trigger_word	formData	string	false	"trigger word"
//	@Success	200				{object}	types.UploadLoraResponse
//	@Failure	400				{object}	types.ErrorResponse
//	@Failure	500				{object}	types.ErrorResponse
//	@Router		/loras [post]
func (a *api) uploadLora(w http.ResponseWriter, r *http.Request) {
	rl := newRequestLog(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart body")
		rl.end(http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		rl.end(http.StatusBadRequest, err)
		return
	}
	defer f.Close()
	rl.begin(map[string]any{"filename": hdr.Filename, "size": hdr.Size})
	res, err := a.svc.UploadLora(r.Context(), hdr.Filename, r.FormValue("display_name"), r.FormValue("trigger_word"), f)
	if err != nil {
		rl.end(writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
	rl.end(http.StatusOK, nil)
}

// deleteLora godoc
//
//	@Summary	Delete a LoRA file and its record
//	@Tags		loras
//	@Produce	json
//	@Param		id	path		int	true	"LoRA id"
//	@Success	200	{object}	types.MessageResponse
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/loras/{id} [delete]
func (a *api) deleteLora(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteLora(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "LoRA deleted"})
}

// generate godoc
//
//	@Summary	Generate an image
//	@Tags		generate
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.GenerateRequest	true	"generation request"
//	@Success	200		{object}	types.GenerateResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	415		{object}	types.ErrorResponse
//	@Failure	429		{object}	types.ErrorResponse
//	@Failure	500		{object}	types.ErrorResponse
//	@Failure	503		{object}	types.ErrorResponse
//	@Router		/generate [post]
func (a *api) generate(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	rl := newRequestLog(r)
	rl.begin(map[string]any{"prompt": req.Prompt, "steps": req.Steps, "width": req.Width, "height": req.Height, "precision": req.Precision, "loras": len(req.Loras)})

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if generateTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, generateTimeout)
		defer tcancel()
	}
	res, err := a.svc.Generate(ctx, req)
	if err != nil {
		// Client went away; nobody to answer.
		if r.Context().Err() != nil {
			rl.end(0, err)
			return
		}
		if serverBaseCtx.Err() != nil {
			err = errors.New("server shutting down")
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			rl.end(http.StatusServiceUnavailable, err)
			return
		}
		rl.end(writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
	rl.end(http.StatusOK, nil)
}

// history godoc
//
//	@Summary	Succeeded generations, newest first
//	@Tags		history
//	@Produce	json
//	@Param		limit	query		int	false	"page size"		default(20)
//	@Param		offset	query		int	false	"page offset"	default(0)
//	@Success	200		{array}		types.HistoryItem
//	@Header		200		{integer}	X-Total-Count	"total succeeded generations"
//	@Header		200		{integer}	X-Page-Size		"page size"
//	@Header		200		{integer}	X-Page-Offset	"page offset"
//	@Failure	400		{object}	types.ErrorResponse
//	@Router		/history [get]
func (a *api) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, total, err := a.svc.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	h := w.Header()
	h.Set("X-Total-Count", strconv.Itoa(total))
	h.Set("X-Page-Size", strconv.Itoa(limit))
	h.Set("X-Page-Offset", strconv.Itoa(offset))
	writeJSON(w, http.StatusOK, items)
}

// deleteHistory godoc
//
//	@Summary	Delete a generation and its image
//	@Tags		history
//	@Produce	json
//	@Param		id	path		int	true	"generation id"
//	@Success	200	{object}	types.MessageResponse
//	@Failure	404	{object}	types.ErrorResponse
//	@Failure	500	{object}	types.ErrorResponse
//	@Router		/history/{id} [delete]
func (a *api) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteHistory(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "History item and associated file deleted successfully"})
}

// status godoc
//
//	@Summary	Manager and pipeline state
//	@Tags		status
//	@Produce	json
//	@Success	200	{object}	types.StatusResponse
//	@Router		/status [get]
func (a *api) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
