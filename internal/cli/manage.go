package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"zimage/internal/studio"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the detected hardware and the model precisions it can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeService(svc)
			printModels(cmd.OutOrStdout(), svc.Models(cmd.Context()))
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError("invalid id %q", s)
	}
	return id, nil
}

func newLorasCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loras",
		Aliases: []string{"lora"},
		Short:   "Manage registered LoRA files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError("loras requires a subcommand: list|add|remove")
		},
	}

	list := &cobra.Command{Use: "list", Aliases: []string{"ls"}, Short: "List registered LoRAs", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := a.open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.closeService(svc)
		loras, err := svc.Loras(cmd.Context())
		if err != nil {
			return err
		}
		printLoras(cmd.OutOrStdout(), loras)
		return nil
	}}

	var name, trigger string
	add := &cobra.Command{Use: "add PATH", Short: "Copy a .safetensors file into the LoRA directory and register it", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		svc, err := a.open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.closeService(svc)
		res, err := svc.UploadLora(cmd.Context(), filepath.Base(args[0]), name, trigger, f)
		if err != nil {
			return err
		}
		okColor.Fprint(cmd.OutOrStdout(), "Registered ")
		fmt.Fprintf(cmd.OutOrStdout(), "%s as id %d (%s)\n", res.Filename, res.ID, res.DisplayName)
		return nil
	}}
	add.Flags().StringVar(&name, "name", "", "Display name; defaults to the file stem")
	add.Flags().StringVar(&trigger, "trigger", "", "Trigger word to remember with the LoRA")

	remove := &cobra.Command{Use: "remove ID", Aliases: []string{"rm"}, Short: "Unregister a LoRA and delete its file", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		svc, err := a.open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.closeService(svc)
		if err := svc.DeleteLora(cmd.Context(), id); err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "LoRA %d deleted\n", id)
		return nil
	}}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and prune generation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError("history requires a subcommand: list|delete")
		},
	}

	var limit, offset int
	list := &cobra.Command{Use: "list", Aliases: []string{"ls"}, Short: "List recent generations, newest first", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		if limit < 0 || offset < 0 {
			return usageError("--limit and --offset must not be negative")
		}
		svc, err := a.open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.closeService(svc)
		items, total, err := svc.History(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), items, total, offset)
		return nil
	}}
	list.Flags().IntVar(&limit, "limit", studio.DefaultHistoryLimit, "Rows to show")
	list.Flags().IntVar(&offset, "offset", 0, "Rows to skip")

	del := &cobra.Command{Use: "delete ID", Aliases: []string{"rm"}, Short: "Delete a history entry and its image", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		svc, err := a.open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.closeService(svc)
		if err := svc.DeleteHistory(cmd.Context(), id); err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "History item %d deleted\n", id)
		return nil
	}}

	cmd.AddCommand(list, del)
	return cmd
}
