package wire

// ResponseStatus is the status carried by Response and its sub-variants.
type ResponseStatus uint8

const (
	StatusOk ResponseStatus = iota
	StatusAuthFailed
	StatusRefused
	StatusPayloadMismatch
)

// PacketUpdateResponseType distinguishes an ordinary ack from a request
// that the receiver send its full bit-vector at a wave boundary.
type PacketUpdateResponseType uint8

const (
	ResponseTypeOk PacketUpdateResponseType = iota
	ResponseTypeWaveComplete
)

// FileHeader mirrors the data model's FileHeader: {name, length, ordinal}.
// Server and receivers must agree exactly on the ordered sequence.
type FileHeader struct {
	Name    string
	Length  int64
	Ordinal int64
}

func (h *FileHeader) encode(w *writer) {
	w.putString(h.Name)
	w.putVarint(h.Length)
	w.putVarint(h.Ordinal)
}

func (h *FileHeader) decode(r *reader) error {
	var err error
	if h.Name, err = r.getString(); err != nil {
		return err
	}
	if h.Length, err = r.getVarint(); err != nil {
		return err
	}
	if h.Ordinal, err = r.getVarint(); err != nil {
		return err
	}
	return nil
}

// Challenge is the first frame sent server -> receiver after transport
// establishment: a freshly drawn nonce encoded under the PSK. There is no
// plaintext form: with no pass-phrase configured, the PSK is derived from
// the empty pass-phrase and the nonce is still sealed.
type Challenge struct {
	ChallengeKey []byte
}

func (*Challenge) tag() Tag { return TagChallenge }
func (m *Challenge) encode(w *writer) { w.putBytes(m.ChallengeKey) }
func (m *Challenge) decode(r *reader) (err error) {
	m.ChallengeKey, err = r.getBytes()
	return
}

// ChallengeResponse proves possession of the PSK: receiver -> server.
type ChallengeResponse struct {
	ChallengeKey []byte
}

func (*ChallengeResponse) tag() Tag { return TagChallengeResponse }
func (m *ChallengeResponse) encode(w *writer) { w.putBytes(m.ChallengeKey) }
func (m *ChallengeResponse) decode(r *reader) (err error) {
	m.ChallengeKey, err = r.getBytes()
	return
}

// Response is the generic server -> receiver ack carrying failure detail.
type Response struct {
	Status       ResponseStatus
	ErrorMessage string
}

func (*Response) tag() Tag { return TagResponse }
func (m *Response) encode(w *writer) {
	w.putUint8(uint8(m.Status))
	w.putString(m.ErrorMessage)
}
func (m *Response) decode(r *reader) error {
	s, err := r.getUint8()
	if err != nil {
		return err
	}
	m.Status = ResponseStatus(s)
	if m.ErrorMessage, err = r.getString(); err != nil {
		return err
	}
	return nil
}

// SessionJoinRequest is receiver -> server.
type SessionJoinRequest struct {
	Path  string
	State int64
}

func (*SessionJoinRequest) tag() Tag { return TagSessionJoinRequest }
func (m *SessionJoinRequest) encode(w *writer) {
	w.putString(m.Path)
	w.putVarint(m.State)
}
func (m *SessionJoinRequest) decode(r *reader) error {
	var err error
	if m.Path, err = r.getString(); err != nil {
		return err
	}
	if m.State, err = r.getVarint(); err != nil {
		return err
	}
	return nil
}

// SessionJoinResponse extends Response with the exact file list, chosen
// multicast endpoint, current wave number, and two out-of-band extension
// fields both sides must agree on to interpret the multicast stream:
// BlockSize (so the receiver's FileChunk layout matches the sender's
// without needing its own MTU configuration) and MerkleRoot (the
// whole-payload integrity check of spec.md §4.6).
type SessionJoinResponse struct {
	Response
	Files            []FileHeader
	MulticastAddress string
	MulticastPort    int64
	WaveNumber       int64
	BlockSize        int64
	MerkleRoot       []byte
}

func (*SessionJoinResponse) tag() Tag { return TagSessionJoinResponse }
func (m *SessionJoinResponse) encode(w *writer) {
	m.Response.encode(w)
	w.putUvarint(uint64(len(m.Files)))
	for i := range m.Files {
		m.Files[i].encode(w)
	}
	w.putString(m.MulticastAddress)
	w.putVarint(m.MulticastPort)
	w.putVarint(m.WaveNumber)
	w.putVarint(m.BlockSize)
	w.putBytes(m.MerkleRoot)
}
func (m *SessionJoinResponse) decode(r *reader) error {
	if err := m.Response.decode(r); err != nil {
		return err
	}
	n, err := r.getUvarint()
	if err != nil {
		return err
	}
	m.Files = make([]FileHeader, n)
	for i := range m.Files {
		if err := m.Files[i].decode(r); err != nil {
			return err
		}
	}
	if m.MulticastAddress, err = r.getString(); err != nil {
		return err
	}
	if m.MulticastPort, err = r.getVarint(); err != nil {
		return err
	}
	if m.WaveNumber, err = r.getVarint(); err != nil {
		return err
	}
	if m.BlockSize, err = r.getVarint(); err != nil {
		return err
	}
	if m.MerkleRoot, err = r.getBytes(); err != nil {
		return err
	}
	return nil
}

// PacketStatusUpdate is receiver -> server, sent every PacketUpdateInterval.
type PacketStatusUpdate struct {
	BytesLeft      int64
	LeavingSession bool
}

func (*PacketStatusUpdate) tag() Tag { return TagPacketStatusUpdate }
func (m *PacketStatusUpdate) encode(w *writer) {
	w.putVarint(m.BytesLeft)
	w.putBool(m.LeavingSession)
}
func (m *PacketStatusUpdate) decode(r *reader) error {
	var err error
	if m.BytesLeft, err = r.getVarint(); err != nil {
		return err
	}
	if m.LeavingSession, err = r.getBool(); err != nil {
		return err
	}
	return nil
}

// PacketStatusUpdateResponse extends Response with the observability
// reception-rate signal and the wave-complete solicitation.
type PacketStatusUpdateResponse struct {
	Response
	ReceptionRate float64
	ResponseType  PacketUpdateResponseType
}

func (*PacketStatusUpdateResponse) tag() Tag { return TagPacketStatusUpdateResponse }
func (m *PacketStatusUpdateResponse) encode(w *writer) {
	m.Response.encode(w)
	w.putFloat64(m.ReceptionRate)
	w.putUint8(uint8(m.ResponseType))
}
func (m *PacketStatusUpdateResponse) decode(r *reader) error {
	if err := m.Response.decode(r); err != nil {
		return err
	}
	var err error
	if m.ReceptionRate, err = r.getFloat64(); err != nil {
		return err
	}
	t, err := r.getUint8()
	if err != nil {
		return err
	}
	m.ResponseType = PacketUpdateResponseType(t)
	return nil
}

// WaveStatusUpdate is receiver -> server at a wave boundary, carrying the
// full raw bit-vector.
type WaveStatusUpdate struct {
	BytesLeft      int64
	LeavingSession bool
	FileBitVector  []byte
}

func (*WaveStatusUpdate) tag() Tag { return TagWaveStatusUpdate }
func (m *WaveStatusUpdate) encode(w *writer) {
	w.putVarint(m.BytesLeft)
	w.putBool(m.LeavingSession)
	w.putBytes(m.FileBitVector)
}
func (m *WaveStatusUpdate) decode(r *reader) error {
	var err error
	if m.BytesLeft, err = r.getVarint(); err != nil {
		return err
	}
	if m.LeavingSession, err = r.getBool(); err != nil {
		return err
	}
	if m.FileBitVector, err = r.getBytes(); err != nil {
		return err
	}
	return nil
}

// WaveCompleteResponse extends Response with the new wave number.
type WaveCompleteResponse struct {
	Response
	WaveNumber int64
}

func (*WaveCompleteResponse) tag() Tag { return TagWaveCompleteResponse }
func (m *WaveCompleteResponse) encode(w *writer) {
	m.Response.encode(w)
	w.putVarint(m.WaveNumber)
}
func (m *WaveCompleteResponse) decode(r *reader) error {
	if err := m.Response.decode(r); err != nil {
		return err
	}
	var err error
	if m.WaveNumber, err = r.getVarint(); err != nil {
		return err
	}
	return nil
}
