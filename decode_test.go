package winemu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeInstructionMatchesEncodedNop(t *testing.T) {
	m := NewMaps()
	_, err := m.CreateMap("code", 0x401000, 0x1000, PermRead|PermExec)
	require.NoError(t, err)
	require.NoError(t, m.WriteBytes(0x401000, []byte{0x90})) // NOP

	e := NewEmulator(Config{})
	e.Maps = m
	cpu := NewCPU(m)
	t1 := &Thread{CPU: cpu}

	d := NewDebugger(e, t1)
	inst, err := d.DecodeInstruction(0x401000)
	require.NoError(t, err)
	require.Equal(t, 1, inst.Len)
}

func TestTraceHookFiresWithoutBlockingExecution(t *testing.T) {
	e := NewEmulator(Config{Trace: true})
	data := buildExitProcessImage(t, 0x400000, 1)
	require.NoError(t, e.LoadImage(data))

	var fired int
	e.Hooks.AddPreInstruction(func(em *Emulator, th *Thread, addr uint64) bool {
		fired++
		return true
	})

	_, err := e.Run(context.Background(), 1000)
	require.NoError(t, err)
	require.Greater(t, fired, 0)
}
