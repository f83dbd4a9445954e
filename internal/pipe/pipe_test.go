package pipe

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	p := New(4)
	done := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte("hello world"))
		done <- err
		p.Close()
	}()

	var got bytes.Buffer
	for {
		chunk, err := p.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got.Write(chunk)
	}
	require.NoError(t, <-done)
	require.Equal(t, "hello world", got.String())
}

func TestReadAfterCloseDrainsThenEOF(t *testing.T) {
	p := New(16)
	_, err := p.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	chunk, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, "abc", string(chunk))

	_, err = p.Read()
	require.ErrorIs(t, err, io.EOF)
}

func TestWriteAfterCloseErrors(t *testing.T) {
	p := New(16)
	require.NoError(t, p.Close())
	_, err := p.Write([]byte("x"))
	require.Error(t, err)
}

func TestReaderAdapterReassemblesAcrossSmallReads(t *testing.T) {
	p := New(4)
	go func() {
		p.Write([]byte("hello world"))
		p.Close()
	}()

	r := p.NewReader()
	var got bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, "hello world", got.String())
}

func TestConcurrentReadRejected(t *testing.T) {
	p := New(1)
	go func() {
		// blocks on the empty buffer, holding reading=true while parked
		// in cond.Wait (which releases the mutex while blocked)
		p.Read()
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := p.Read()
	require.Error(t, err)

	require.NoError(t, p.Close())
}
