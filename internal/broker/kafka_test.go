package broker

import (
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/shoplytics/pulse/errs"
)

func TestNewReaderValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no brokers", Config{Topics: []string{"orders"}, GroupID: "g"}},
		{"no topics", Config{Brokers: []string{"k:9092"}, GroupID: "g"}},
		{"no group", Config{Brokers: []string{"k:9092"}, Topics: []string{"orders"}}},
		{"bad reset", Config{Brokers: []string{"k:9092"}, Topics: []string{"orders"}, GroupID: "g", OffsetReset: "newest"}},
	}
	for _, tc := range cases {
		if _, err := NewReader(tc.cfg); errs.CodeOf(err) != errs.CodeConfig {
			t.Errorf("%s: expected config error, got %v", tc.name, err)
		}
	}
}

func TestStartOffsetMapping(t *testing.T) {
	cases := []struct {
		reset string
		want  int64
	}{
		{"", kafka.FirstOffset},
		{"earliest", kafka.FirstOffset},
		{"Earliest", kafka.FirstOffset},
		{"latest", kafka.LastOffset},
	}
	for _, tc := range cases {
		got, err := startOffset(tc.reset)
		if err != nil || got != tc.want {
			t.Errorf("startOffset(%q) = %d, %v; want %d", tc.reset, got, err, tc.want)
		}
	}
}

func TestNewReaderSubscribesBothTopics(t *testing.T) {
	r, err := NewReader(Config{
		Brokers:     []string{"k:9092"},
		Topics:      []string{"orders", "sessions"},
		GroupID:     "stream-processor",
		OffsetReset: "earliest",
	})
	if err != nil {
		t.Fatalf("NewReader = %v", err)
	}
	defer r.Close()

	cfg := r.Config()
	if len(cfg.GroupTopics) != 2 {
		t.Errorf("GroupTopics = %v", cfg.GroupTopics)
	}
	if cfg.GroupID != "stream-processor" {
		t.Errorf("GroupID = %q", cfg.GroupID)
	}
}
