package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestNewSaramaConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "test-group"},
			wantErr: false,
		},
		{
			name:    "empty brokers",
			cfg:     KafkaConfig{Brokers: []string{}, ConsumerGroup: "test-group"},
			wantErr: true,
		},
		{
			name:    "empty consumer group",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}},
			wantErr: true,
		},
		{
			name:    "invalid kafka version",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g", Version: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSaramaConfig(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("newSaramaConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSaramaConfig_Defaults(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}

	sc, err := newSaramaConfig(&cfg)
	if err != nil {
		t.Fatalf("newSaramaConfig() error = %v", err)
	}

	if cfg.ClientID != "research-assistant" {
		t.Errorf("ClientID = %s", cfg.ClientID)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if !sc.Producer.Return.Successes {
		t.Error("sync producer requires Return.Successes")
	}
	if sc.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("RequiredAcks = %v", sc.Producer.RequiredAcks)
	}
}

func TestProducerMessage(t *testing.T) {
	ev := NewEvent(TopicCostRecorded, "cost-ledger", "req-42", map[string]any{"usd": 0.25})

	msg, err := producerMessage(TopicCostRecorded, ev)
	if err != nil {
		t.Fatalf("producerMessage() error = %v", err)
	}

	if msg.Topic != TopicCostRecorded {
		t.Errorf("Topic = %s", msg.Topic)
	}
	if key, _ := msg.Key.Encode(); string(key) != ev.ID {
		t.Errorf("Key = %s, want %s", key, ev.ID)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "req-42" {
		t.Errorf("Headers = %+v", msg.Headers)
	}

	raw, _ := msg.Value.Encode()
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Type != TopicCostRecorded {
		t.Errorf("decoded = %+v", decoded)
	}

	msg, _ = producerMessage(TopicQueryCompleted, NewEvent(TopicQueryCompleted, "x", "", nil))
	if len(msg.Headers) != 0 {
		t.Error("no correlation header expected without correlation ID")
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{"a:9092, b:9092 ,,", []string{"a:9092", "b:9092"}},
	}

	for _, tt := range tests {
		got := ParseKafkaBrokers(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("ParseKafkaBrokers(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseKafkaBrokers(%q)[%d] = %s, want %s", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)
	var _ Bus = (*MemoryBus)(nil)
	var _ Bus = (*InstrumentedBus)(nil)
}
