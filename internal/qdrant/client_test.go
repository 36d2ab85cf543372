package qdrant

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/finresearch/research-assistant/internal/config"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	if cfg.Host != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, cfg.Host)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Port)
	}

	if cfg.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, cfg.Timeout)
	}

	if cfg.DenseVector != "dense" || cfg.SparseVector != "keywords" {
		t.Errorf("unexpected vector names %q/%q", cfg.DenseVector, cfg.SparseVector)
	}
}

func TestConfigFromSettings(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{"local", "http://localhost:6334", "localhost", 6334, false, false},
		{"cloud tls", "https://abc.cloud.qdrant.io:6334", "abc.cloud.qdrant.io", 6334, true, false},
		{"no port", "http://qdrant", "qdrant", DefaultPort, false, false},
		{"grpc scheme", "grpc://qdrant:7000", "qdrant", 7000, false, false},
		{"empty", "", DefaultHost, DefaultPort, false, false},
		{"bad scheme", "ftp://qdrant:6334", "", 0, false, true},
		{"bad port", "http://qdrant:abc", "", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc, err := ConfigFromSettings(config.QdrantConfig{
				URL:            tt.url,
				Collection:     "filings",
				TimeoutSeconds: 3,
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cc.Host != tt.host || cc.Port != tt.port || cc.UseTLS != tt.tls {
				t.Errorf("got %s:%d tls=%v, want %s:%d tls=%v", cc.Host, cc.Port, cc.UseTLS, tt.host, tt.port, tt.tls)
			}
			if cc.Collection != "filings" {
				t.Errorf("collection = %q", cc.Collection)
			}
			if cc.Timeout != 3*time.Second {
				t.Errorf("timeout = %v", cc.Timeout)
			}
		})
	}
}

func TestNewClientRequiresCollection(t *testing.T) {
	if _, err := NewClient(DefaultClientConfig()); err == nil {
		t.Error("expected error without collection")
	}
}

func TestScoredPointsToPassages(t *testing.T) {
	points := []*qdrant.ScoredPoint{
		{
			Id:    &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: 42}},
			Score: 0.87,
			Payload: map[string]*qdrant.Value{
				PayloadDocumentName: {Kind: &qdrant.Value_StringValue{StringValue: "apple_10k_2023.pdf"}},
				PayloadPageNumber:   {Kind: &qdrant.Value_IntegerValue{IntegerValue: 12}},
				PayloadText:         {Kind: &qdrant.Value_StringValue{StringValue: "Net sales were $383.3 billion."}},
			},
		},
		{
			Id:    &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: "5c56c793-69f3-4fbf-87e6-c4bf54c28c26"}},
			Score: 0.5,
			Payload: map[string]*qdrant.Value{
				PayloadDocumentName: {Kind: &qdrant.Value_StringValue{StringValue: "msft_annual_report.pdf"}},
				PayloadPageNumber:   {Kind: &qdrant.Value_DoubleValue{DoubleValue: 3}},
			},
		},
	}

	got := scoredPointsToPassages(points)
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(got))
	}

	if got[0].ID != "42" || got[0].DocumentName != "apple_10k_2023.pdf" || got[0].PageNumber != 12 {
		t.Errorf("unexpected first passage: %+v", got[0])
	}
	if got[0].Text != "Net sales were $383.3 billion." || got[0].Score != 0.87 {
		t.Errorf("unexpected first passage content: %+v", got[0])
	}
	if got[1].ID != "5c56c793-69f3-4fbf-87e6-c4bf54c28c26" || got[1].PageNumber != 3 || got[1].Text != "" {
		t.Errorf("unexpected second passage: %+v", got[1])
	}
}

func TestCollectionStatus(t *testing.T) {
	if s := collectionStatus(qdrant.CollectionStatus_Green); s != "green" {
		t.Errorf("got %s", s)
	}
	if s := collectionStatus(qdrant.CollectionStatus(99)); s != "unknown" {
		t.Errorf("got %s", s)
	}
}
