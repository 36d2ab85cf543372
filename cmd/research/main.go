// Package main provides the research command line client.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/finresearch/research-assistant/internal/client"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "research",
		Short: "Ask questions about financial filings",
		Long: `research talks to a running research-server.

Examples:
  research ask "What was Apple's revenue in fiscal 2023?"
  research ask --top-k 3 --rerank=false "How much did Microsoft spend on R&D?"
  research costs
  research documents
  research documents download apple-10k-2023.pdf`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().String("server", envOr("RESEARCH_SERVER", "http://localhost:8000"), "research server URL")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")
	rootCmd.PersistentFlags().Duration("timeout", 120*time.Second, "request timeout")

	rootCmd.AddCommand(
		askCmd(),
		estimateCmd(),
		costsCmd(),
		documentsCmd(),
		activityCmd(),
		healthCmd(),
		versionCmd(),
	)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient(cmd *cobra.Command) *client.Client {
	serverURL, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(client.Config{BaseURL: serverURL, Timeout: timeout})
}

func newPrinter(cmd *cobra.Command) (*printer, error) {
	format, _ := cmd.Flags().GetString("format")
	return newPrinterFor(cmd.OutOrStdout(), format)
}

// queryRequest builds a request from the question and the flags the user set.
func queryRequest(cmd *cobra.Command, question string) client.QueryRequest {
	req := client.QueryRequest{Query: question}
	if cmd.Flags().Changed("top-k") {
		topK, _ := cmd.Flags().GetInt("top-k")
		req.TopK = &topK
	}
	if cmd.Flags().Changed("rerank") {
		rerank, _ := cmd.Flags().GetBool("rerank")
		req.UseReranking = &rerank
	}
	return req
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and print the cited answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			answer, err := newClient(cmd).Ask(cmd.Context(), queryRequest(cmd, args[0]))
			if err != nil {
				return err
			}
			return p.answer(answer)
		},
	}
	cmd.Flags().Int("top-k", 5, "number of sources to retrieve (1-20)")
	cmd.Flags().Bool("rerank", true, "rerank candidates before answering")
	return cmd
}

func estimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate <question>",
		Short: "Estimate what a question would cost without asking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			estimate, err := newClient(cmd).Estimate(cmd.Context(), queryRequest(cmd, args[0]))
			if err != nil {
				return err
			}
			return p.estimate(estimate)
		},
	}
	cmd.Flags().Int("top-k", 5, "number of sources to retrieve (1-20)")
	cmd.Flags().Bool("rerank", true, "include reranking in the estimate")
	return cmd
}

func costsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "costs",
		Short: "Show today's spend against the daily budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			summary, err := newClient(cmd).Costs(cmd.Context())
			if err != nil {
				return err
			}
			return p.costs(summary)
		},
	}
}

func documentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List the source documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			docs, err := newClient(cmd).Documents(cmd.Context())
			if err != nil {
				return err
			}
			return p.documents(docs)
		},
	}

	download := &cobra.Command{
		Use:   "download <name>",
		Short: "Download a source document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, _ := cmd.Flags().GetString("output")
			return downloadDocument(cmd.Context(), newClient(cmd), args[0], outDir, cmd.OutOrStdout())
		},
	}
	download.Flags().StringP("output", "o", ".", "directory to write the file into")
	cmd.AddCommand(download)

	return cmd
}

func downloadDocument(ctx context.Context, c *client.Client, name, outDir string, out io.Writer) error {
	path := filepath.Join(outDir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := c.Download(ctx, name, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}

	fmt.Fprintf(out, "Saved %s (%d bytes)\n", path, n)
	return nil
}

func activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent query outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			activity, err := newClient(cmd).Activity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return p.activity(activity)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			health, err := newClient(cmd).Health(cmd.Context())
			if err != nil {
				return err
			}
			return p.health(health)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "research %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
