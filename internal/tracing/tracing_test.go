// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/config"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "str-analyzer", "test", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := initWithWriter(ctx, config.TracingConfig{Enabled: true, Exporter: "stdout", SampleRatio: 1}, "str-analyzer", "test", zap.NewNop(), &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "relay-chat")
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "relay-chat")
	assert.Contains(t, buf.String(), "str-analyzer")
}

func TestInit_UnsupportedExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"}, "str-analyzer", "test", nil)
	assert.ErrorContains(t, err, "unsupported exporter")
}

func TestNewExporter_OTLP(t *testing.T) {
	exp, err := newExporter(context.Background(), config.TracingConfig{Exporter: "otlp", Endpoint: "http://localhost:4318"}, nil)
	require.NoError(t, err)
	assert.NoError(t, exp.Shutdown(context.Background()))
}
