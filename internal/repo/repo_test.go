package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFilter_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   RunFilter
		want RunFilter
	}{
		{name: "defaults", in: RunFilter{}, want: RunFilter{Limit: defaultListLimit}},
		{name: "capped", in: RunFilter{Limit: maxListLimit + 1}, want: RunFilter{Limit: maxListLimit}},
		{name: "negative offset", in: RunFilter{Limit: 10, Offset: -5}, want: RunFilter{Limit: 10}},
		{name: "kept", in: RunFilter{Workflow: "w", Limit: 20, Offset: 40}, want: RunFilter{Workflow: "w", Limit: 20, Offset: 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	var nilMap map[string]any
	data, err := marshalJSON(nilMap)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = marshalJSON(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	_, err = marshalJSON(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", *nullString("x"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
