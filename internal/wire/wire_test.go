package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestRoundTripMessages(t *testing.T) {
	cases := []Message{
		&Challenge{ChallengeKey: []byte{1, 2, 3}},
		&ChallengeResponse{ChallengeKey: []byte("resp")},
		&Response{Status: StatusAuthFailed, ErrorMessage: "nope"},
		&SessionJoinRequest{Path: "/payload", State: 0},
		&SessionJoinResponse{
			Response:         Response{Status: StatusOk},
			Files:            []FileHeader{{Name: "a.bin", Length: 100, Ordinal: 0}, {Name: "b.bin", Length: 200, Ordinal: 1}},
			MulticastAddress: "239.1.2.3",
			MulticastPort:    5000,
			WaveNumber:       0,
		},
		&PacketStatusUpdate{BytesLeft: 1024, LeavingSession: false},
		&PacketStatusUpdateResponse{Response: Response{Status: StatusOk}, ReceptionRate: 0.75, ResponseType: ResponseTypeWaveComplete},
		&WaveStatusUpdate{BytesLeft: 0, LeavingSession: true, FileBitVector: []byte{0xff, 0x0f}},
		&WaveCompleteResponse{Response: Response{Status: StatusOk}, WaveNumber: 3},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if !reflect.DeepEqual(want, got) {
			t.Errorf("round trip mismatch:\n want %#v\n got  %#v", want, got)
		}
	}
}

func TestDecodeUnknownTagIsMalformed(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0xff}))
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestDecodeTruncatedIsMalformed(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Challenge{ChallengeKey: []byte("abcdef")}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	if _, err := Decode(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected malformed frame error on truncated input")
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	m := FileSegment{SessionID: 7, SegmentID: 42, Data: bytes.Repeat([]byte{0xAB}, 37)}
	encoded := EncodeSegment(m)
	got, err := DecodeSegment(encoded)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	if got.SessionID != m.SessionID || got.SegmentID != m.SegmentID || !bytes.Equal(got.Data, m.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func FuzzDecode(f *testing.F) {
	var buf bytes.Buffer
	_ = Encode(&buf, &WaveStatusUpdate{BytesLeft: 5, LeavingSession: true, FileBitVector: []byte{1, 2}})
	f.Add(buf.Bytes())
	f.Add([]byte{})
	f.Add([]byte{byte(TagChallenge)})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Decode(bytes.NewReader(data))
	})
}
