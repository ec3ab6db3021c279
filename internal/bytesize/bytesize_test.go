package bytesize

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "1024B", 1024, false},
		{"kibibytes", "1Ki", 1024, false},
		{"mebibytes", "100MiB", 100 * 1024 * 1024, false},
		{"gibibytes", "1Gi", 1024 * 1024 * 1024, false},
		{"tebibytes", "1TiB", 1024 * 1024 * 1024 * 1024, false},
		{"kilobytes", "1KB", 1000, false},
		{"megabytes", "100MB", 100 * 1000 * 1000, false},
		{"gigabytes", "1G", 1000 * 1000 * 1000, false},
		{"lowercase gi", "1gi", 1024 * 1024 * 1024, false},
		{"uppercase GI", "1GI", 1024 * 1024 * 1024, false},
		{"leading space", "  1Gi", 1024 * 1024 * 1024, false},
		{"space between", "1 Gi", 1024 * 1024 * 1024, false},
		{"float mebibytes", "1.5Mi", ByteSize(1.5 * 1024 * 1024), false},
		{"float gibibytes", "0.5Gi", ByteSize(0.5 * 1024 * 1024 * 1024), false},

		{"empty string", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"invalid unit", "1Xi", 0, true},
		{"negative number", "-1Gi", 0, true},
		{"no number", "Gi", 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("512Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 512*MiB {
		t.Errorf("UnmarshalText = %d, want %d", b, 512*MiB)
	}
	if err := b.UnmarshalText([]byte("invalid")); err == nil {
		t.Error("UnmarshalText accepted invalid input")
	}
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		input ByteSize
		want  string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{100 * MiB, "100.00MiB"},
		{1 * GiB, "1.00GiB"},
		{2 * TiB, "2.00TiB"},
		{ByteSize(1.5 * float64(GiB)), "1.50GiB"},
	}

	for _, tt := range tests {
		if got := tt.input.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", uint64(tt.input), got, tt.want)
		}
	}
}
