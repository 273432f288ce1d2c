package observability

// Config holds OpenTelemetry settings (traces, metrics, propagator).
type Config struct {
	// Enabled turns on export to the OTLP collector. Noop providers otherwise.
	Enabled bool `env:"OTEL_ENABLED" envDefault:"false"`
	// OTLPEndpoint is the OTLP gRPC address, e.g. "127.0.0.1:4317" or "otel-collector:4317".
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"127.0.0.1:4317"`
	// SamplingRatio is in 0..1.
	SamplingRatio float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"1.0"`
	// ServiceVersion is optional, usually injected at build time.
	ServiceVersion string `env:"SERVICE_VERSION"`

	ServiceName           string `env:"-"`
	DeploymentEnvironment string `env:"-"`
}
