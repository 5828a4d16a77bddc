package audio

import (
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	written := rb.Write([]float32{0.1, 0.2, 0.3, 0.4, 0.5})
	if written != 5 {
		t.Errorf("Expected to write 5 samples, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	written = rb.Write([]float32{0.6, 0.7, 0.8})
	if written != 3 {
		t.Errorf("Expected to write 3 samples, got %d", written)
	}
	if rb.Available() != 8 {
		t.Errorf("Expected available 8, got %d", rb.Available())
	}
}

func TestRingBuffer_WriteOverflow(t *testing.T) {
	rb := NewRingBuffer(5)

	// Fill buffer (size-1 to avoid full/empty ambiguity)
	if written := rb.Write([]float32{1, 2, 3, 4}); written != 4 {
		t.Errorf("Expected to write 4 samples, got %d", written)
	}

	written := rb.Write([]float32{5, 6})
	if written != 0 {
		t.Errorf("Expected to write 0 samples (buffer already full), got %d", written)
	}
	if rb.Available() != 4 {
		t.Errorf("Expected available 4 after overflow, got %d", rb.Available())
	}
}

func TestRingBuffer_PartialWrite(t *testing.T) {
	rb := NewRingBuffer(5)

	written := rb.Write([]float32{1, 2, 3, 4, 5, 6})
	if written != 4 {
		t.Errorf("Expected to write 4 samples, got %d", written)
	}
}

func TestRingBuffer_Read(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]float32{1, 2, 3, 4, 5})

	readBuf := make([]float32, 3)
	read := rb.Read(readBuf)
	if read != 3 {
		t.Errorf("Expected to read 3 samples, got %d", read)
	}
	if readBuf[0] != 1 || readBuf[1] != 2 || readBuf[2] != 3 {
		t.Errorf("Read incorrect data: %v", readBuf)
	}
	if rb.Available() != 2 {
		t.Errorf("Expected available 2 after read, got %d", rb.Available())
	}
}

func TestRingBuffer_ReadEmpty(t *testing.T) {
	rb := NewRingBuffer(10)

	if rb.Available() != 0 {
		t.Errorf("Expected buffer to be empty initially, got available %d", rb.Available())
	}

	read := rb.Read(make([]float32, 5))
	if read != 0 {
		t.Errorf("Expected to read 0 samples from empty buffer, got %d", read)
	}
}

func TestRingBuffer_Reset(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]float32{1, 2, 3, 4, 5})

	rb.Clear()
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", rb.Available())
	}
	if read := rb.Read(make([]float32, 5)); read != 0 {
		t.Errorf("Expected to read 0 samples after clear, got %d", read)
	}
	if rb.size != 10 {
		t.Errorf("Expected size 10 after clear, got %d", rb.size)
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]float32{1, 2, 3, 4})
	rb.Read(make([]float32, 2))

	// Should wrap around
	rb.Write([]float32{5, 6})
	if rb.Available() != 4 {
		t.Errorf("Expected available 4, got %d", rb.Available())
	}

	readBuf := make([]float32, 4)
	read := rb.Read(readBuf)
	if read != 4 {
		t.Errorf("Expected to read 4 samples, got %d", read)
	}
	expected := []float32{3, 4, 5, 6}
	for i := 0; i < 4; i++ {
		if readBuf[i] != expected[i] {
			t.Errorf("Expected %v at position %d, got %v", expected[i], i, readBuf[i])
		}
	}
}

func TestRingBuffer_ManyWrapArounds(t *testing.T) {
	rb := NewRingBuffer(7)
	next := float32(0)
	want := float32(0)

	for round := 0; round < 50; round++ {
		in := make([]float32, 1+round%5)
		for i := range in {
			in[i] = next
			next++
		}
		if n := rb.Write(in); n != len(in) {
			t.Fatalf("Round %d: expected to write %d samples, got %d", round, len(in), n)
		}

		out := make([]float32, len(in))
		if n := rb.Read(out); n != len(in) {
			t.Fatalf("Round %d: expected to read %d samples, got %d", round, len(in), n)
		}
		for _, v := range out {
			if v != want {
				t.Fatalf("Round %d: expected %v, got %v", round, want, v)
			}
			want++
		}
	}
}
