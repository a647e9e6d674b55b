package daemon

import (
	"fmt"
	"time"

	"credentiald/internal/credential"
	"credentiald/internal/errs"
	"credentiald/internal/groupmap"
	"credentiald/internal/kdf"
	"credentiald/internal/primitive"
	"credentiald/internal/replay"
)

// Engine orchestrates the encode and decode pipelines (spec.md
// §4.I/§4.J). Both call into primitive/kdf/credential; decode
// additionally calls replay and groupmap.
type Engine struct {
	cfg    Config
	replay replay.Cache
	groups *groupmap.Map
	seed   *primitive.Pool
	now    func() time.Time
}

// NewEngine builds an Engine. groups may be nil if no auth_gid checks
// will ever be requested. seed may be nil, in which case per-credential
// salts are drawn straight from the kernel CSPRNG; a non-nil seed (the
// daemon's entropy pool, primed from its seed file) is used instead.
func NewEngine(cfg Config, cache replay.Cache, groups *groupmap.Map, seed *primitive.Pool) *Engine {
	return &Engine{cfg: cfg.WithDefaults(), replay: cache, groups: groups, seed: seed, now: time.Now}
}

// EncodeRequest carries the authenticated peer identity and the
// caller's context fields (spec.md §4.I inputs).
type EncodeRequest struct {
	PeerUID uint32
	PeerGID uint32

	Cipher primitive.CipherID // 0 = caller left it unset
	MAC    primitive.MACID    // 0 = caller left it unset
	Zip    primitive.ZipID    // 0 = caller left it unset
	Realm  []byte
	TTL    uint32 // 0 = caller left it unset
	AuthUID uint32
	AuthGID uint32
	Payload []byte
}

// Encode implements spec.md §4.I end to end.
func (e *Engine) Encode(req EncodeRequest) (string, *errs.Error) {
	cipherID := req.Cipher
	if cipherID == primitive.CipherNone {
		cipherID = e.cfg.DefaultCipher
	}
	macID := req.MAC
	if macID == primitive.MACNone {
		macID = e.cfg.DefaultMAC
	}
	zipID := req.Zip
	if zipID == primitive.ZipNone {
		zipID = e.cfg.DefaultZip
	}

	if cipherID.KeyLen() == 0 {
		return "", errs.New(errs.BadCipher)
	}
	if macID.Size() == 0 {
		return "", errs.New(errs.BadMAC)
	}
	if _, ok := zipAlgorithmKnown(zipID); !ok {
		return "", errs.New(errs.BadZip)
	}
	if len(req.Realm) > credential.MaxRealmLen {
		return "", errs.New(errs.BadArg)
	}
	if len(req.Payload) > credential.MaxPayloadLen {
		return "", errs.New(errs.BadArg)
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = e.cfg.DefaultTTL
	}
	if ttl > e.cfg.MaxTTL {
		ttl = e.cfg.MaxTTL
	}

	var salt []byte
	var err error
	if e.seed != nil {
		salt, err = e.seed.RandomBytes(credential.SaltLen)
	} else {
		salt, err = primitive.RandomBytes(credential.SaltLen)
	}
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}
	var saltArr [credential.SaltLen]byte
	copy(saltArr[:], salt)

	payload := req.Payload
	effectiveZip := zipID
	if zipID != primitive.ZipNone {
		compressed, err := primitive.Compress(zipID, req.Payload)
		if err != nil {
			return "", errs.Newf(errs.BadZip, err.Error())
		}
		if len(compressed) < len(req.Payload) {
			payload = compressed
		} else {
			effectiveZip = primitive.ZipNone
		}
	}

	subkeys, err := kdf.DeriveSubkeys(e.cfg.MasterKey, salt, cipherID, macID)
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}
	defer subkeys.Wipe()

	fields := credential.Fields{
		Realm:      req.Realm,
		EncodeTime: uint32(e.now().Unix()),
		TTL:        ttl,
		OriginAddr: e.cfg.OriginAddr,
		CredUID:    req.PeerUID,
		CredGID:    req.PeerGID,
		AuthUID:    req.AuthUID,
		AuthGID:    req.AuthGID,
		Payload:    payload,
	}
	serialized, err := fields.Marshal()
	if err != nil {
		return "", errs.Newf(errs.BadArg, err.Error())
	}

	// The header is built now, before the MAC, so every preceding
	// field (spec.md §3 invariant (3): version/cipher/mac/zip/salt) is
	// covered by mac_tag and not just by the KDF info string.
	header := credential.Header{Version: credential.WireVersion, Cipher: cipherID, MAC: macID, Zip: effectiveZip, Salt: saltArr}
	macTag, err := primitive.MACBlock(macID, subkeys.MACKey, header.Marshal(), serialized)
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}

	plaintext := append(serialized, macTag...)
	iv, err := kdf.DeterministicIV(macID, salt, primitive.IVSize(cipherID))
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}
	cipher, err := primitive.NewCipher(cipherID, subkeys.CipherKey, iv, primitive.Encrypt)
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}
	ciphertext, err := cipher.Seal(plaintext)
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}

	raw := append(header.Marshal(), ciphertext...)
	return credential.Armor(raw), nil
}

// DecodeRequest carries the credential string, the caller's diagnostic
// flags, and the authenticated decoder identity (spec.md §4.J inputs).
type DecodeRequest struct {
	Credential   string
	IgnoreTTL    bool
	IgnoreReplay bool
	DecoderUID   uint32
	DecoderGID   uint32
}

// DecodeResult is the full metadata and payload returned on success
// (spec.md §4.J step 10).
type DecodeResult struct {
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

// Decode implements spec.md §4.J end to end.
func (e *Engine) Decode(req DecodeRequest) (DecodeResult, *errs.Error) {
	raw, err := credential.Dearmor(req.Credential)
	if err != nil {
		return DecodeResult{}, errs.New(errs.BadCred)
	}

	header, ciphertext, err := credential.UnmarshalHeader(raw)
	if err == credential.ErrBadVersion {
		return DecodeResult{}, errs.New(errs.BadVersion)
	}
	if err != nil {
		return DecodeResult{}, errs.New(errs.BadCred)
	}
	if header.Cipher.KeyLen() == 0 {
		return DecodeResult{}, errs.New(errs.BadCipher)
	}
	if header.MAC.Size() == 0 {
		return DecodeResult{}, errs.New(errs.BadMAC)
	}
	if _, ok := zipAlgorithmKnown(header.Zip); !ok {
		return DecodeResult{}, errs.New(errs.BadZip)
	}

	subkeys, err := kdf.DeriveSubkeys(e.cfg.MasterKey, header.Salt[:], header.Cipher, header.MAC)
	if err != nil {
		return DecodeResult{}, errs.Newf(errs.Snafu, err.Error())
	}
	defer subkeys.Wipe()

	iv, err := kdf.DeterministicIV(header.MAC, header.Salt[:], primitive.IVSize(header.Cipher))
	if err != nil {
		return DecodeResult{}, errs.Newf(errs.Snafu, err.Error())
	}
	cipher, err := primitive.NewCipher(header.Cipher, subkeys.CipherKey, iv, primitive.Decrypt)
	if err != nil {
		return DecodeResult{}, errs.Newf(errs.Snafu, err.Error())
	}
	plaintext, err := cipher.Open(ciphertext)
	if err != nil {
		return DecodeResult{}, errs.New(errs.BadCred)
	}

	macSize := header.MAC.Size()
	if len(plaintext) < macSize {
		return DecodeResult{}, errs.New(errs.BadCred)
	}
	serialized := plaintext[:len(plaintext)-macSize]
	gotTag := plaintext[len(plaintext)-macSize:]
	wantTag, err := primitive.MACBlock(header.MAC, subkeys.MACKey, header.Marshal(), serialized)
	if err != nil {
		return DecodeResult{}, errs.Newf(errs.Snafu, err.Error())
	}
	if !primitive.ConstantTimeEqual(gotTag, wantTag) {
		return DecodeResult{}, errs.New(errs.BadCred)
	}

	fields, n, err := credential.UnmarshalFields(serialized)
	if err != nil || n != len(serialized) {
		return DecodeResult{}, errs.New(errs.BadCred)
	}
	if len(e.cfg.Realms) > 0 {
		if _, ok := e.cfg.Realms[string(fields.Realm)]; !ok {
			return DecodeResult{}, errs.New(errs.BadRealm)
		}
	}
	if fields.TTL > e.cfg.MaxTTL {
		return DecodeResult{}, errs.New(errs.BadCred)
	}

	payload := fields.Payload
	if header.Zip != primitive.ZipNone {
		payload, err = primitive.Decompress(header.Zip, fields.Payload, credential.MaxPayloadLen)
		if err != nil {
			return DecodeResult{}, errs.New(errs.BadCred)
		}
	}

	now := e.now()
	encodeTime := time.Unix(int64(fields.EncodeTime), 0)
	if !req.IgnoreTTL {
		if now.Before(encodeTime.Add(-time.Duration(e.cfg.SkewSecs) * time.Second)) {
			return DecodeResult{}, errs.Newf(errs.CredRewound, originDetail(fields.OriginAddr))
		}
		if now.After(encodeTime.Add(time.Duration(fields.TTL) * time.Second)) {
			return DecodeResult{}, errs.Newf(errs.CredExpired, originDetail(fields.OriginAddr))
		}
	}

	if fields.AuthUID != credential.AnyID && req.DecoderUID != fields.AuthUID {
		return DecodeResult{}, errs.New(errs.CredUnauthorized)
	}
	if fields.AuthGID != credential.AnyID && req.DecoderGID != fields.AuthGID {
		if e.groups == nil || !e.groups.HasGID(req.DecoderUID, fields.AuthGID) {
			return DecodeResult{}, errs.New(errs.CredUnauthorized)
		}
	}

	if e.replay != nil {
		fp := replay.Fingerprint(gotTag)
		expiry := encodeTime.Add(time.Duration(fields.TTL) * time.Second)
		verdict, err := e.replay.Remember(fp, expiry)
		if err != nil {
			return DecodeResult{}, errs.Newf(errs.Snafu, err.Error())
		}
		if verdict == replay.Replayed && !req.IgnoreReplay {
			return DecodeResult{}, errs.Newf(errs.CredReplayed, originDetail(fields.OriginAddr))
		}
	}

	return DecodeResult{
		Payload:    payload,
		CredUID:    fields.CredUID,
		CredGID:    fields.CredGID,
		AuthUID:    fields.AuthUID,
		AuthGID:    fields.AuthGID,
		EncodeTime: fields.EncodeTime,
		DecodeTime: uint32(now.Unix()),
		TTL:        fields.TTL,
		OriginAddr: fields.OriginAddr,
		Realm:      fields.Realm,
	}, nil
}

func zipAlgorithmKnown(id primitive.ZipID) (primitive.ZipID, bool) {
	switch id {
	case primitive.ZipNone, primitive.ZipDeflate:
		return id, true
	default:
		return id, false
	}
}

// originDetail formats a credential's origin_addr for the human-readable
// error detail spec.md §7 attaches to CRED_EXPIRED/CRED_REWOUND/
// CRED_REPLAYED rejections.
func originDetail(addr [4]byte) string {
	return fmt.Sprintf("origin %d.%d.%d.%d", addr[0], addr[1], addr[2], addr[3])
}
