package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/display"
	"github.com/nhle/mailsync/internal/ingest"
)

var (
	ingestTrustDate     bool
	ingestUpdateBody    bool
	ingestUpdateDate    bool
	ingestUpdateReplyTo bool
)

type ingestFileResult struct {
	File      string `json:"file"`
	Outcome   string `json:"outcome,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	Updated   bool   `json:"updated,omitempty"`
	Error     string `json:"error,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Archive raw RFC 5322 message files",
	Long: `Archive one or more raw message files (use - for stdin) through the
same ingest path the sync runner uses. Messages already archived are left
alone unless an --update-* flag asks for an in-place correction.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := a.IngestOptions()
		if cmd.Flags().Changed("trust-date") {
			opts.TrustDate = ingestTrustDate
		}
		opts.UpdateBody = ingestUpdateBody
		opts.UpdateDate = ingestUpdateDate
		opts.UpdateReplyTo = ingestUpdateReplyTo

		var (
			results []ingestFileResult
			failed  int
		)
		for _, file := range args {
			r := ingestFileResult{File: file}
			res, err := ingestFile(cmd, a.Ingestor, file, opts)
			if err != nil {
				failed++
				r.Error = err.Error()
				if !jsonOutput {
					display.ErrorMsg(cmd.ErrOrStderr(), "%s: %v", file, err)
				}
			} else {
				r.Outcome = string(res.Outcome)
				r.MessageID = res.Message.MessageID
				r.ThreadID = res.Message.ThreadID
				r.Updated = res.Updated
				if !jsonOutput {
					display.SuccessMsg(cmd.OutOrStdout(), "%s: %s <%s>", file, res.Outcome, res.Message.MessageID)
				}
			}
			results = append(results, r)
		}

		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func ingestFile(cmd *cobra.Command, ing *ingest.Ingestor, file string, opts ingest.Options) (*ingest.Result, error) {
	var (
		raw []byte
		err error
	)
	if file == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return ing.Ingest(cmd.Context(), raw, opts)
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestTrustDate, "trust-date", false, "Store the Date header as-is (default: sync.trust_date)")
	ingestCmd.Flags().BoolVar(&ingestUpdateBody, "update-body", false, "Replace the body of an already archived message")
	ingestCmd.Flags().BoolVar(&ingestUpdateDate, "update-date", false, "Replace the sent date of an already archived message")
	ingestCmd.Flags().BoolVar(&ingestUpdateReplyTo, "update-reply-to", false, "Refresh the reply-to reference of an already archived message")
	rootCmd.AddCommand(ingestCmd)
}
