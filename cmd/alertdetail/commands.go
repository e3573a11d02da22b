package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"alertdetail/internal/engine"
	"alertdetail/internal/model"
	"alertdetail/internal/normalize"
	"alertdetail/internal/report"
	"alertdetail/internal/snapshot"
)

// cliPrincipal sees every entity; the CLI runs with database credentials.
var cliPrincipal = model.Principal{Name: "cli", GlobalRead: true}

func newRenderCmd(opts *globalOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "render <blob-file>",
		Short: "Render the fault detail of a details blob",
		Long: `Render the fault detail of a compressed alert_log details blob.

The file may hold the raw compressed bytes or their base64 text. Use "-"
to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			mgr, err := opts.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			eng, err := engine.NewEngine(cfg, opts.logger(cfg, cmd.ErrOrStderr()), nil, store)
			if err != nil {
				return err
			}
			mode := model.ModeLinked
			if plain {
				mode = model.ModePlain
			}
			out, err := eng.RenderBlob(cmd.Context(), blob, cliPrincipal, mode)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "render markup-free text")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <blob-file>",
		Short: "Print the snapshot held in a details blob as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error {
			blob, err := readBlob(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			snap, err := snapshot.Decode(blob)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
}

func newEncodeCmd() *cobra.Command {
	var (
		output  string
		encoded bool
	)
	cmd := &cobra.Command{
		Use:   "encode <json-file>",
		Short: "Compress a details JSON document into a blob",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			blob, err := snapshot.EncodeJSON(doc)
			if err != nil {
				return err
			}
			if _, err := snapshot.Decode(blob); err != nil {
				return fmt.Errorf("%s is not a details document: %w", args[0], err)
			}
			if encoded {
				blob = []byte(base64.StdEncoding.EncodeToString(blob) + "\n")
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(blob)
				return err
			}
			return os.WriteFile(output, blob, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the blob to this file instead of stdout")
	cmd.Flags().BoolVar(&encoded, "base64", false, "write base64 text, as accepted by the ingest endpoints")
	return cmd
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var (
		req    report.Request
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the alert log report with plain-text fault details",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			mgr, err := opts.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("report needs storage; enable it in the config")
			}
			defer store.Close()

			logger := opts.logger(cfg, cmd.ErrOrStderr())
			eng, err := engine.NewEngine(cfg, logger, nil, store)
			if err != nil {
				return err
			}
			req.Principal = cliPrincipal
			rep, err := report.NewComposer(store, eng, cfg.Report, logger).Compose(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			return report.WriteText(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().Int64Var(&req.DeviceID, "device", 0, "only rows of this device id")
	cmd.Flags().StringVar(&req.Rule, "string", "", "only rules whose text contains this string")
	cmd.Flags().IntVar(&req.Results, "results", 0, "rows per page (default from config)")
	cmd.Flags().IntVar(&req.Start, "start", 0, "row offset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// readBlob accepts raw compressed bytes or their base64 text.
func readBlob(stdin io.Reader, path string) ([]byte, error) {
	data, err := readInput(stdin, path)
	if err != nil {
		return nil, err
	}
	if text := strings.TrimSpace(string(data)); text != "" && isBase64Text(text) {
		if decoded, err := normalize.DecodeDetails(text); err == nil {
			return decoded, nil
		}
	}
	return data, nil
}

func isBase64Text(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
