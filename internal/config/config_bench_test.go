package config

import (
	"testing"
)

// BenchmarkParse benchmarks config parsing, defaulting and validation
func BenchmarkParse(b *testing.B) {
	data := []byte(GetExampleConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkValidate benchmarks validation of a defaulted config
func BenchmarkValidate(b *testing.B) {
	cfg := validConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cfg.Validate(); err != nil {
			b.Fatal(err)
		}
	}
}
