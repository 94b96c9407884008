package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero(), "NewULID should generate a non-zero ID")
	assert.NotEqual(t, id, NewULID(), "two NewULID calls should produce different IDs")
}

func TestParseULID(t *testing.T) {
	t.Run("valid ULID string", func(t *testing.T) {
		original := NewULID()
		parsed, err := ParseULID(original.String())
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("invalid ULID string", func(t *testing.T) {
		_, err := ParseULID("not-a-valid-ulid")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ULID")
	})
}

func TestULID_Scan(t *testing.T) {
	original := NewULID()

	tests := []struct {
		name    string
		value   any
		want    ULID
		wantErr bool
	}{
		{"nil", nil, ULID{}, false},
		{"empty string", "", ULID{}, false},
		{"string", original.String(), original, false},
		{"bytes", []byte(original.String()), original, false},
		{"garbage", "xyz", ULID{}, true},
		{"int", 42, ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ULID
			err := got.Scan(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestULID_Value(t *testing.T) {
	v, err := ULID{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	id := NewULID()
	v, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
}

func TestULID_JSON(t *testing.T) {
	id := NewULID()
	data, err := json.Marshal(struct {
		ID ULID `json:"id"`
	}{ID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	var decoded struct {
		ID ULID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	var m BaseModel
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero())

	existing := m.ID
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, existing, m.ID, "an existing ID is kept")
}

func TestSessionRecord_Validate(t *testing.T) {
	r := &SessionRecord{Name: "cam1"}
	assert.ErrorIs(t, r.Validate(), ErrSessionIDRequired)

	r.SessionID = NewULID().String()
	assert.NoError(t, r.Validate())

	r.Name = ""
	assert.Error(t, r.Validate())
}

func TestSessionRecord_Duration(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &SessionRecord{StartedAt: start}
	assert.Zero(t, r.Duration())

	end := start.Add(90 * time.Second)
	r.EndedAt = &end
	assert.Equal(t, 90*time.Second, r.Duration())
}
