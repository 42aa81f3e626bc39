package winemu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapsCreateAndReadWrite(t *testing.T) {
	m := NewMaps()
	_, err := m.CreateMap("code", 0x400000, 0x1000, PermRead|PermExec)
	require.NoError(t, err)

	m.Write32(0x400010, 0xDEADBEEF)
	require.Equal(t, uint32(0xDEADBEEF), m.Read32(0x400010))
}

func TestMapsOverlapRejected(t *testing.T) {
	m := NewMaps()
	_, err := m.CreateMap("a", 0x1000, 0x1000, PermRead)
	require.NoError(t, err)

	_, err = m.CreateMap("b", 0x1800, 0x1000, PermRead)
	require.ErrorIs(t, err, ErrOverlap)
}

func TestMapsNoMapError(t *testing.T) {
	m := NewMaps()
	_, err := m.ReadBytes(0x9999, 4)
	require.ErrorIs(t, err, ErrNoMap)
}

func TestMapsBanzaiLeniency(t *testing.T) {
	m := NewMaps()
	m.Lenient = true

	b, err := m.ReadBytes(0x5000, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, b)
	require.NotNil(t, m.Find(0x5000))
}

func TestMapsAllocAnonymousBumps(t *testing.T) {
	m := NewMaps()
	r1, err := m.AllocAnonymous("a", 100, PermRead|PermWrite)
	require.NoError(t, err)
	r2, err := m.AllocAnonymous("b", 100, PermRead|PermWrite)
	require.NoError(t, err)
	require.Less(t, r1.Base, r2.Base)
	require.GreaterOrEqual(t, r2.Base, r1.Base+r1.Size)
}

func TestMapsCStringRoundTrip(t *testing.T) {
	m := NewMaps()
	_, err := m.CreateMap("strings", 0x2000, 0x100, PermRead|PermWrite)
	require.NoError(t, err)

	data := append([]byte("hello"), 0)
	require.NoError(t, m.WriteBytes(0x2000, data))
	require.Equal(t, "hello", m.ReadCString(0x2000))
}

func TestMapsWStringRoundTrip(t *testing.T) {
	m := NewMaps()
	_, err := m.CreateMap("wstrings", 0x3000, 0x100, PermRead|PermWrite)
	require.NoError(t, err)

	// "hi" as UTF-16LE plus a terminating NUL unit
	require.NoError(t, m.WriteBytes(0x3000, []byte{'h', 0, 'i', 0, 0, 0}))
	require.Equal(t, "hi", m.ReadWString(0x3000))
}

func TestMapsAccessDenied(t *testing.T) {
	m := NewMaps()
	_, err := m.CreateMap("ro", 0x4000, 0x1000, PermRead)
	require.NoError(t, err)

	err = m.WriteBytes(0x4000, []byte{1})
	require.ErrorIs(t, err, ErrAccessDenied)
}
