package observability

import (
	"google.golang.org/grpc/metadata"
)

// MetadataCarrier adapts metadata.MD to propagation.TextMapCarrier.
type MetadataCarrier struct {
	md metadata.MD
}

// NewMetadataCarrier works for both incoming and outgoing metadata.
func NewMetadataCarrier(md metadata.MD) *MetadataCarrier {
	if md == nil {
		md = metadata.MD{}
	}
	return &MetadataCarrier{md: md}
}

// Get returns the first value. gRPC metadata keys are lowercase.
func (c *MetadataCarrier) Get(key string) string {
	vals := c.md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c *MetadataCarrier) Set(key, value string) {
	c.md.Set(key, value)
}

func (c *MetadataCarrier) Keys() []string {
	out := make([]string, 0, len(c.md))
	for k := range c.md {
		out = append(out, k)
	}
	return out
}
