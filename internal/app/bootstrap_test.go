package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recall/backend/internal/app"
	"recall/backend/internal/config"
)

type statefulSchema struct {
	callCount int
	failUntil int
}

func (m *statefulSchema) Ensure(ctx context.Context) error {
	m.callCount++
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry_Success(t *testing.T) {
	schema := &statefulSchema{}
	err := app.EnsureSchemaWithRetry(context.Background(), schema, 1, 1*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, schema.callCount)
}

func TestEnsureSchemaWithRetry_Retries(t *testing.T) {
	schema := &statefulSchema{failUntil: 2}
	err := app.EnsureSchemaWithRetry(context.Background(), schema, 5, 1*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, schema.callCount)
}

func TestEnsureSchemaWithRetry_Fail(t *testing.T) {
	schema := &statefulSchema{failUntil: 100}
	err := app.EnsureSchemaWithRetry(context.Background(), schema, 3, 1*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, schema.callCount)
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBHost: "invalid-host",
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}
