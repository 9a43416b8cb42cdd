package packet

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFieldRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFieldWriter(&buf)
	fw.WriteBool(true)
	fw.WriteInt32(-42)
	fw.WriteInt64(1 << 40)
	fw.WriteDouble(3.14159)
	g := uuid.New()
	fw.WriteGuid(g)
	dto := NewDateTimeOffset(time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", -7*3600)))
	fw.WriteDateTimeOffset(dto)
	fw.WriteString("hello session")
	fw.WriteStringArray([]string{"a", "b", "c"})
	fw.WriteVersionString("1.2.3")
	fw.WriteBinaryBlob([]byte{1, 2, 3, 4})
	require.NoError(t, fw.Err())

	fr := NewFieldReader(&buf)
	require.Equal(t, true, fr.ReadBool())
	require.Equal(t, int32(-42), fr.ReadInt32())
	require.Equal(t, int64(1<<40), fr.ReadInt64())
	require.InDelta(t, 3.14159, fr.ReadDouble(), 1e-12)
	require.Equal(t, g, fr.ReadGuid())
	gotDTO := fr.ReadDateTimeOffset()
	require.Equal(t, dto.Ticks, gotDTO.Ticks)
	require.Equal(t, dto.OffsetMinutes, gotDTO.OffsetMinutes)
	require.Equal(t, "hello session", fr.ReadString())
	require.Equal(t, []string{"a", "b", "c"}, fr.ReadStringArray())
	require.Equal(t, "1.2.3", fr.ReadVersionString())
	require.Equal(t, []byte{1, 2, 3, 4}, fr.ReadBinaryBlob())
	require.NoError(t, fr.Err())
}

func TestFieldReaderTruncated(t *testing.T) {
	fr := NewFieldReader(bytes.NewReader([]byte{1, 2}))
	fr.ReadInt64()
	require.ErrorIs(t, fr.Err(), ErrTruncated)
}

func TestFieldReaderStringInvalidLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0x7f}) // huge positive length
	fr := NewFieldReader(&buf)
	fr.ReadString()
	require.ErrorIs(t, fr.Err(), ErrInvalidLength)
}

func TestDateTimeOffsetPreservesInstant(t *testing.T) {
	ref := time.Date(2023, 11, 5, 6, 30, 0, 0, time.FixedZone("Y", 2*3600))
	dto := NewDateTimeOffset(ref)
	got := dto.Time()
	require.True(t, ref.Equal(got))
	require.Equal(t, int16(120), dto.OffsetMinutes)
}

func TestFieldTypeValid(t *testing.T) {
	require.True(t, FieldBool.Valid())
	require.True(t, FieldBinaryBlob.Valid())
	require.False(t, FieldType(0).Valid())
	require.False(t, FieldType(200).Valid())
}
