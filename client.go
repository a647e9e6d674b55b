package credentiald

import (
	"time"

	"credentiald/internal/errs"
	"credentiald/internal/frame"
	"credentiald/internal/peerid"
	"credentiald/internal/transport"
)

// Encode mints a credential over the daemon socket named by ctx's
// SocketPath, encoding this process's effective identity as observed
// by the daemon (spec.md §4.D "Encode exchange"). On success it
// returns the armored credential string; on rejection it returns a
// typed *Error and no string.
func Encode(ctx *Context, payload []byte) (string, *Error) {
	req := frame.EncReq{
		Cipher:  uint8(ctx.Cipher),
		MAC:     uint8(ctx.MAC),
		Zip:     uint8(ctx.Zip),
		Realm:   []byte(ctx.Realm),
		TTL:     ctx.ttlSeconds(),
		AuthUID: ctx.AuthUID,
		AuthGID: ctx.AuthGID,
		Payload: payload,
	}

	var rsp frame.EncRsp
	err := roundTrip(ctx, frame.Frame{Type: frame.TypeEncReq, Body: req.Marshal()}, func(f frame.Frame) error {
		decoded, unmarshalErr := frame.UnmarshalEncRsp(f.Body)
		if unmarshalErr != nil {
			return unmarshalErr
		}
		rsp = decoded
		return nil
	})
	if err != nil {
		return "", errs.Newf(errs.Snafu, err.Error())
	}
	if rsp.ErrorNum != 0 {
		return "", errs.Newf(errs.Code(rsp.ErrorNum), string(rsp.ErrorStr))
	}
	return string(rsp.Credential), nil
}

// Decode validates an armored credential string over the daemon
// socket named by ctx's SocketPath, and on success returns the
// payload the credential carries while populating ctx with the
// credential's metadata (spec.md §4.J "Decode exchange").
func Decode(ctx *Context, credentialString string) ([]byte, *Error) {
	req := frame.DecReq{
		Credential:   []byte(credentialString),
		IgnoreTTL:    ctx.IgnoreTTL,
		IgnoreReplay: ctx.IgnoreReplay,
	}

	var rsp frame.DecRsp
	err := roundTrip(ctx, frame.Frame{Type: frame.TypeDecReq, Body: req.Marshal()}, func(f frame.Frame) error {
		decoded, unmarshalErr := frame.UnmarshalDecRsp(f.Body)
		if unmarshalErr != nil {
			return unmarshalErr
		}
		rsp = decoded
		return nil
	})
	if err != nil {
		return nil, errs.Newf(errs.Snafu, err.Error())
	}
	if rsp.ErrorNum != 0 {
		return nil, errs.Newf(errs.Code(rsp.ErrorNum), string(rsp.ErrorStr))
	}

	ctx.Realm = string(rsp.Realm)
	ctx.TTL = time.Duration(rsp.TTL) * time.Second
	ctx.AuthUID = rsp.AuthUID
	ctx.AuthGID = rsp.AuthGID
	ctx.OriginAddr = rsp.OriginAddr
	ctx.EncodeTime = time.Unix(int64(rsp.EncodeTime), 0).UTC()
	ctx.DecodeTime = time.Unix(int64(rsp.DecodeTime), 0).UTC()
	return rsp.Payload, nil
}

// roundTrip dials the daemon with retry/back-off, sends req, and reads
// responses until it sees anything other than an intervening
// AUTH_FD_REQ frame, handing the final response to onResponse. A
// client whose peer-identity strategy is FDHandshakeVerifier (spec.md
// §4.F strategy 2) never requests this handshake itself; the daemon
// decides, mid-exchange, to ask for it in place of the real response,
// so this loop must be ready to answer it before it gets the response
// it actually asked for.
func roundTrip(ctx *Context, req frame.Frame, onResponse func(frame.Frame) error) error {
	var lastErr error
	attempts := ctx.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryBase := ctx.RetryBase
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	ioTimeout := ctx.IOTimeout
	if ioTimeout <= 0 {
		ioTimeout = 5 * time.Second
	}
	sockPath := ctx.SocketPath
	if sockPath == "" {
		sockPath = DefaultSocketPath
	}

	for attempt := 0; attempt < attempts; attempt++ {
		req.Retry = uint8(attempt)
		if err := attemptRoundTrip(sockPath, ioTimeout, req, onResponse); err != nil {
			lastErr = err
			if attempt < attempts-1 {
				time.Sleep(retryBase * time.Duration(attempt+1))
			}
			continue
		}
		return nil
	}
	return lastErr
}

func attemptRoundTrip(sockPath string, ioTimeout time.Duration, req frame.Frame, onResponse func(frame.Frame) error) error {
	conn, err := transport.Dial(sockPath, ioTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SendFrame(req); err != nil {
		return err
	}

	for {
		f, err := conn.RecvFrame(frame.DefaultMaxBodyLen)
		if err != nil {
			return err
		}
		if f.Type != frame.TypeAuthFDReq {
			return onResponse(f)
		}
		if err := answerFDHandshake(f); err != nil {
			return err
		}
		// The daemon still owes us the real response on this same
		// connection once its side of the handshake completes.
	}
}

// answerFDHandshake is the client's reaction to an unsolicited
// AUTH_FD_REQ: create the unforgeably-named identity file the daemon
// told us to create and send its descriptor over the one-shot socket
// it named (spec.md §4.F strategy 2).
func answerFDHandshake(f frame.Frame) error {
	req, err := frame.UnmarshalAuthFDReq(f.Body)
	if err != nil {
		return err
	}
	return peerid.SendIdentityFile(string(req.PipeName), string(req.ClientDir))
}
