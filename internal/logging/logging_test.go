package logging

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"debug", "console", false},
		{"warn", "", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("expected logger")
			}
		})
	}
}
