package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/finresearch/research-assistant/internal/client"
	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/documents"
	"github.com/finresearch/research-assistant/internal/rag"
)

// printer renders responses as text or JSON.
type printer struct {
	out  io.Writer
	json bool
}

func newPrinterFor(out io.Writer, format string) (*printer, error) {
	switch format {
	case "text", "":
		return &printer{out: out}, nil
	case "json":
		return &printer{out: out, json: true}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want text or json)", format)
	}
}

func (p *printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) answer(a *rag.Answer) error {
	if p.json {
		return p.writeJSON(a)
	}

	fmt.Fprintln(p.out, a.Answer)
	if len(a.Sources) == 0 {
		return nil
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Sources:")
	for i, s := range a.Sources {
		fmt.Fprintf(p.out, "  [%d] %s p.%d  score %.2f  (%s)", i+1, s.DocumentName, s.PageNumber, s.Score, s.SearchMethod)
		if len(s.MatchedKeywords) > 0 {
			fmt.Fprintf(p.out, "  keywords: %s", strings.Join(s.MatchedKeywords, ", "))
		}
		fmt.Fprintln(p.out)
	}
	return nil
}

func (p *printer) costs(s *cost.Summary) error {
	if p.json {
		return p.writeJSON(s)
	}

	fmt.Fprintf(p.out, "Date:       %s\n", s.Date)
	fmt.Fprintf(p.out, "Spent:      $%.4f of $%.2f\n", s.DailyTotal, s.DailyLimit)
	fmt.Fprintf(p.out, "Remaining:  $%.4f\n", s.RemainingBudget)
	if s.LimitExceeded {
		fmt.Fprintln(p.out, "Daily limit reached: new questions are refused until the reset.")
	}
	return nil
}

func (p *printer) estimate(e *cost.Estimate) error {
	if p.json {
		return p.writeJSON(e)
	}

	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Embedding\t$%.6f\t%d tokens\n", e.EmbeddingCost, e.EstimatedTokens.Embedding)
	fmt.Fprintf(tw, "Vector queries\t$%.6f\t\n", e.VectorQueryCost)
	fmt.Fprintf(tw, "Rerank\t$%.6f\t\n", e.RerankCost)
	fmt.Fprintf(tw, "Generation\t$%.6f\t%d in / %d out tokens\n", e.GenerationCost, e.EstimatedTokens.GenerationInput, e.EstimatedTokens.GenerationOutput)
	fmt.Fprintf(tw, "Total\t$%.6f\t\n", e.EstimatedCostUSD)
	return tw.Flush()
}

func (p *printer) documents(docs []documents.Info) error {
	if p.json {
		return p.writeJSON(docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(p.out, "No documents.")
		return nil
	}

	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tSIZE")
	for _, d := range docs {
		size := "-"
		if d.FileSize != nil {
			size = fmt.Sprintf("%d", *d.FileSize)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Status, size)
	}
	return tw.Flush()
}

func (p *printer) activity(a *client.Activity) error {
	if p.json {
		return p.writeJSON(a)
	}

	sum := a.Summary
	fmt.Fprintf(p.out, "%d queries, mean %.0fms, max %dms\n", sum.Count, sum.MeanLatencyMs, sum.MaxLatencyMs)
	outcomes := make([]string, 0, len(sum.Outcomes))
	for name := range sum.Outcomes {
		outcomes = append(outcomes, name)
	}
	sort.Strings(outcomes)
	for _, name := range outcomes {
		fmt.Fprintf(p.out, "  %-20s %d\n", name, sum.Outcomes[name])
	}
	if len(a.Entries) == 0 {
		return nil
	}

	fmt.Fprintln(p.out)
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOUTCOME\tLATENCY\tSOURCES\tREQUEST")
	for _, e := range a.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%s\n", e.Timestamp.Format("15:04:05"), e.Outcome(), e.LatencyMs, e.Sources, e.RequestID)
	}
	return tw.Flush()
}

func (p *printer) health(h *client.HealthResponse) error {
	if p.json {
		return p.writeJSON(h)
	}

	fmt.Fprintf(p.out, "Status: %s", h.Status)
	if h.Version != "" {
		fmt.Fprintf(p.out, " (version %s)", h.Version)
	}
	fmt.Fprintln(p.out)

	names := make([]string, 0, len(h.Components))
	for name := range h.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := h.Components[name]
		fmt.Fprintf(p.out, "  %-12s %s", name, c.Status)
		if c.Message != "" {
			fmt.Fprintf(p.out, "  %s", c.Message)
		}
		fmt.Fprintln(p.out)
	}
	return nil
}
