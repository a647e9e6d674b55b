package frame

// ErrorNum carries a typed error across the wire in place of a normal
// body (spec.md §4.D: "a non-zero error_num field" signals a rejected
// request). It is the frame-level transport of the closed error
// taxonomy; the concrete Code values live in internal/errs (re-exported
// by the root credentiald package), so this codec depends on neither.
type ErrorNum uint8

// EncReq is the ENC_REQ body: the client's request to mint a credential.
type EncReq struct {
	Cipher     uint8
	MAC        uint8
	Zip        uint8
	Realm      []byte
	TTL        uint32
	AuthUID    uint32
	AuthGID    uint32
	Payload    []byte
}

func (b EncReq) Marshal() []byte {
	buf := make([]byte, 0, 3+1+len(b.Realm)+4+4+4+4+len(b.Payload))
	buf = putU8(buf, b.Cipher)
	buf = putU8(buf, b.MAC)
	buf = putU8(buf, b.Zip)
	buf = putShortString(buf, b.Realm)
	buf = putU32(buf, b.TTL)
	buf = putU32(buf, b.AuthUID)
	buf = putU32(buf, b.AuthGID)
	buf = putLongString(buf, b.Payload)
	return buf
}

func UnmarshalEncReq(raw []byte) (EncReq, error) {
	c := &cursor{buf: raw}
	var b EncReq
	var err error
	if b.Cipher, err = c.u8(); err != nil {
		return EncReq{}, err
	}
	if b.MAC, err = c.u8(); err != nil {
		return EncReq{}, err
	}
	if b.Zip, err = c.u8(); err != nil {
		return EncReq{}, err
	}
	if b.Realm, err = c.shortString(); err != nil {
		return EncReq{}, err
	}
	if b.TTL, err = c.u32(); err != nil {
		return EncReq{}, err
	}
	if b.AuthUID, err = c.u32(); err != nil {
		return EncReq{}, err
	}
	if b.AuthGID, err = c.u32(); err != nil {
		return EncReq{}, err
	}
	if b.Payload, err = c.longString(); err != nil {
		return EncReq{}, err
	}
	return b, c.finish()
}

// EncRsp is the ENC_RSP body: either an error, or the minted credential.
type EncRsp struct {
	ErrorNum   ErrorNum
	ErrorStr   []byte
	Credential []byte
}

func (b EncRsp) Marshal() []byte {
	buf := make([]byte, 0, 1+1+len(b.ErrorStr)+4+len(b.Credential))
	buf = putU8(buf, uint8(b.ErrorNum))
	buf = putShortString(buf, b.ErrorStr)
	buf = putLongString(buf, b.Credential)
	return buf
}

func UnmarshalEncRsp(raw []byte) (EncRsp, error) {
	c := &cursor{buf: raw}
	var b EncRsp
	var err error
	var errNum uint8
	if errNum, err = c.u8(); err != nil {
		return EncRsp{}, err
	}
	b.ErrorNum = ErrorNum(errNum)
	if b.ErrorStr, err = c.shortString(); err != nil {
		return EncRsp{}, err
	}
	if b.Credential, err = c.longString(); err != nil {
		return EncRsp{}, err
	}
	return b, c.finish()
}

// DecReq is the DEC_REQ body: the client's request to validate a credential.
type DecReq struct {
	Credential    []byte
	IgnoreTTL     bool
	IgnoreReplay  bool
}

func (b DecReq) Marshal() []byte {
	buf := make([]byte, 0, 4+len(b.Credential)+2)
	buf = putLongString(buf, b.Credential)
	buf = putU8(buf, boolByte(b.IgnoreTTL))
	buf = putU8(buf, boolByte(b.IgnoreReplay))
	return buf
}

func UnmarshalDecReq(raw []byte) (DecReq, error) {
	c := &cursor{buf: raw}
	var b DecReq
	var err error
	if b.Credential, err = c.longString(); err != nil {
		return DecReq{}, err
	}
	var ignoreTTL, ignoreReplay uint8
	if ignoreTTL, err = c.u8(); err != nil {
		return DecReq{}, err
	}
	if ignoreReplay, err = c.u8(); err != nil {
		return DecReq{}, err
	}
	b.IgnoreTTL = ignoreTTL != 0
	b.IgnoreReplay = ignoreReplay != 0
	return b, c.finish()
}

// DecRsp is the DEC_RSP body: either an error, or the full decoded
// metadata and payload (spec.md §4.J step 10).
type DecRsp struct {
	ErrorNum   ErrorNum
	ErrorStr   []byte
	Payload    []byte
	CredUID    uint32
	CredGID    uint32
	AuthUID    uint32
	AuthGID    uint32
	EncodeTime uint32
	DecodeTime uint32
	TTL        uint32
	OriginAddr [4]byte
	Realm      []byte
}

func (b DecRsp) Marshal() []byte {
	buf := make([]byte, 0, 64+len(b.ErrorStr)+len(b.Payload)+len(b.Realm))
	buf = putU8(buf, uint8(b.ErrorNum))
	buf = putShortString(buf, b.ErrorStr)
	buf = putLongString(buf, b.Payload)
	buf = putU32(buf, b.CredUID)
	buf = putU32(buf, b.CredGID)
	buf = putU32(buf, b.AuthUID)
	buf = putU32(buf, b.AuthGID)
	buf = putU32(buf, b.EncodeTime)
	buf = putU32(buf, b.DecodeTime)
	buf = putU32(buf, b.TTL)
	buf = append(buf, b.OriginAddr[:]...)
	buf = putShortString(buf, b.Realm)
	return buf
}

func UnmarshalDecRsp(raw []byte) (DecRsp, error) {
	c := &cursor{buf: raw}
	var b DecRsp
	var err error
	var errNum uint8
	if errNum, err = c.u8(); err != nil {
		return DecRsp{}, err
	}
	b.ErrorNum = ErrorNum(errNum)
	if b.ErrorStr, err = c.shortString(); err != nil {
		return DecRsp{}, err
	}
	if b.Payload, err = c.longString(); err != nil {
		return DecRsp{}, err
	}
	if b.CredUID, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	if b.CredGID, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	if b.AuthUID, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	if b.AuthGID, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	if b.EncodeTime, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	if b.DecodeTime, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	if b.TTL, err = c.u32(); err != nil {
		return DecRsp{}, err
	}
	addr, err := c.bytes(4)
	if err != nil {
		return DecRsp{}, err
	}
	copy(b.OriginAddr[:], addr)
	if b.Realm, err = c.shortString(); err != nil {
		return DecRsp{}, err
	}
	return b, c.finish()
}

// AuthFDReq is the AUTH_FD_REQ body: the daemon's half of the
// file-descriptor-passing peer-identity handshake (spec.md §4.F
// strategy 2). PipeName names the daemon's one-shot receiving pipe;
// ClientDir names the client-writable directory the client must create
// its unforgeably-named file in.
type AuthFDReq struct {
	PipeName  []byte
	ClientDir []byte
}

func (b AuthFDReq) Marshal() []byte {
	buf := make([]byte, 0, 2+len(b.PipeName)+len(b.ClientDir))
	buf = putShortString(buf, b.PipeName)
	buf = putShortString(buf, b.ClientDir)
	return buf
}

func UnmarshalAuthFDReq(raw []byte) (AuthFDReq, error) {
	c := &cursor{buf: raw}
	var b AuthFDReq
	var err error
	if b.PipeName, err = c.shortString(); err != nil {
		return AuthFDReq{}, err
	}
	if b.ClientDir, err = c.shortString(); err != nil {
		return AuthFDReq{}, err
	}
	return b, c.finish()
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
