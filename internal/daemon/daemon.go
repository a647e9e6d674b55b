package daemon

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/ncruces/go-strftime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"credentiald/internal/errs"
	"credentiald/internal/frame"
	"credentiald/internal/groupmap"
	"credentiald/internal/peerid"
	"credentiald/internal/primitive"
	"credentiald/internal/replay"
	"credentiald/internal/transport"
)

var (
	// ErrBadKeyfile is returned when the master keyfile is missing,
	// misconfigured, or outside [MinKeyBytes, MaxKeyBytes].
	ErrBadKeyfile = errors.New("daemon: keyfile is missing or has a bad length")
	// ErrBadSeedfile is returned when a configured seed file exists but
	// fails its permission/type checks.
	ErrBadSeedfile = errors.New("daemon: seedfile failed permission or type checks")
)

// Options configures a Daemon's startup (spec.md §4.K / §6 "External
// interfaces"). Every path is required except SeedFile and GroupFile,
// which are optional conveniences.
type Options struct {
	SocketPath   string
	LockfilePath string
	KeyfilePath  string
	SeedFilePath string
	GroupFile    string

	Workers    int
	IOTimeout  time.Duration
	MaxBodyLen uint32
	ReplayCap  int

	Config Config

	// Verifier overrides the peer-identity strategy (spec.md §4.F); nil
	// selects peerid.KernelVerifier, the default on platforms that
	// support SO_PEERCRED.
	Verifier peerid.Verifier
	// Log overrides the daemon's logger; nil builds one per the ambient
	// logging stack (logrus, colorized only on a real terminal).
	Log *logrus.Logger
}

// Daemon is the startup/shutdown orchestrator of spec.md §4.K: it owns
// the master key, replay cache, group map, PRNG seed, lockfile, and
// transport listener as explicit fields (Design Note "Cyclic/global
// state" — no package-level globals).
type Daemon struct {
	opts     Options
	log      *logrus.Logger
	engine   *Engine
	replay   replay.Cache
	groups   *groupmap.Map
	verifier peerid.Verifier
	seed     *primitive.Pool

	lock     *transport.Lockfile
	listener *net.UnixListener

	work chan *net.UnixConn
	wg   sync.WaitGroup

	purgeStop chan struct{}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// New validates Options, loads the master keyfile and seed file, builds
// the group map and replay cache, and returns a Daemon ready for Start.
// No socket or lockfile is touched yet (spec.md §4.K orders those into
// Start so a construction failure never leaves stray filesystem state).
func New(opts Options) (*Daemon, error) {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 5 * time.Second
	}
	if opts.MaxBodyLen == 0 {
		opts.MaxBodyLen = frame.DefaultMaxBodyLen
	}
	if opts.ReplayCap <= 0 {
		opts.ReplayCap = 1 << 16
	}
	log := opts.Log
	if log == nil {
		log = newLogger()
	}

	key, err := loadKeyfile(opts.KeyfilePath)
	if err != nil {
		return nil, errors.Wrap(ErrBadKeyfile, err.Error())
	}
	log.WithField("bytes", humanize.Bytes(uint64(len(key)))).Info("master keyfile loaded")

	var loadedSeed []byte
	if opts.SeedFilePath != "" {
		loadedSeed, err = loadSeedfile(opts.SeedFilePath)
		if err != nil {
			return nil, errors.Wrap(ErrBadSeedfile, err.Error())
		}
	}
	seedPool, err := primitive.NewPool(loadedSeed)
	if err != nil {
		primitive.Wipe(loadedSeed)
		return nil, errors.Wrap(err, "daemon: entropy pool init failed")
	}
	primitive.Wipe(loadedSeed)

	var groups *groupmap.Map
	if opts.GroupFile != "" {
		groups, err = groupmap.New(groupmap.OSEnumerator{GroupFile: opts.GroupFile})
		if err != nil {
			return nil, errors.Wrap(err, "daemon: initial group map build failed")
		}
	}

	cache, err := replay.NewMemoryCache(opts.ReplayCap)
	if err != nil {
		return nil, errors.Wrap(err, "daemon: replay cache init failed")
	}

	cfg := opts.Config
	cfg.MasterKey = key
	engine := NewEngine(cfg, cache, groups, seedPool)

	verifier := opts.Verifier
	if verifier == nil {
		verifier = peerid.KernelVerifier{}
	}

	return &Daemon{
		opts:     opts,
		log:      log,
		engine:   engine,
		replay:   cache,
		groups:   groups,
		verifier: verifier,
		seed:     seedPool,
		work:     make(chan *net.UnixConn, opts.Workers*4),
	}, nil
}

// Start acquires the lockfile, binds the transport listener, launches
// the fixed-size worker pool and the accept loop, and starts the
// periodic replay-cache purge (spec.md §4.K / §5). It returns once the
// daemon is ready to serve.
func (d *Daemon) Start() error {
	lock, err := transport.AcquireLockfile(d.opts.LockfilePath)
	if err != nil {
		return errors.Wrap(err, "daemon: lockfile acquisition failed")
	}
	d.lock = lock

	listener, err := transport.Listen(d.opts.SocketPath)
	if err != nil {
		_ = d.lock.Release()
		return errors.Wrap(err, "daemon: transport listen failed")
	}
	d.listener = listener

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.purgeStop = make(chan struct{})
	go d.purgeLoop()

	go d.acceptLoop()

	d.log.WithFields(logrus.Fields{
		"socket":     d.opts.SocketPath,
		"workers":    d.opts.Workers,
		"started_at": strftime.Format("%Y-%m-%d %H:%M:%S %Z", time.Now()),
	}).Info("daemon started")
	return nil
}

// Shutdown stops accepting new connections, drains in-flight workers up
// to ctx's deadline, writes a fresh PRNG seed file, and releases the
// transport and lockfile (spec.md §4.K, mirrored teardown order).
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.log.Info("shutdown: closing listener")
	if d.listener != nil {
		_ = d.listener.Close()
	}
	close(d.purgeStop)
	close(d.work)

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		d.log.Info("shutdown: all workers drained")
	case <-ctx.Done():
		d.log.Warn("shutdown: grace period exceeded with workers still in flight")
	}

	if d.opts.SeedFilePath != "" {
		if err := d.writeSeedfile(d.opts.SeedFilePath); err != nil {
			d.log.WithError(err).Error("shutdown: seedfile write failed")
		}
	}

	if d.lock != nil {
		if err := d.lock.Release(); err != nil {
			return errors.Wrap(err, "daemon: lockfile release failed")
		}
	}
	return nil
}

// RebuildGroups re-enumerates the group database and swaps the new
// snapshot in atomically. The daemon installs no signal handler of its
// own; a rebuild happens only when this method is called.
func (d *Daemon) RebuildGroups() error {
	if d.groups == nil {
		return nil
	}
	return d.groups.Rebuild()
}

func (d *Daemon) acceptLoop() {
	for {
		conn, err := d.listener.AcceptUnix()
		if err != nil {
			if !isClosedErr(err) {
				d.log.WithError(err).Warn("accept failed")
			}
			return
		}
		select {
		case d.work <- conn:
		default:
			d.log.Warn("work queue saturated, rejecting connection")
			_ = conn.Close()
		}
	}
}

func (d *Daemon) worker() {
	defer d.wg.Done()
	for raw := range d.work {
		d.handleConn(raw)
	}
}

func (d *Daemon) handleConn(raw *net.UnixConn) {
	conn := transport.NewConn(raw, d.opts.IOTimeout)
	defer conn.Close()

	reqID := uuid.NewString()
	log := d.log.WithField("req_id", reqID)

	// The request frame is read before identity verification: the
	// kernel-credential strategy needs no frame exchange at all, and
	// the fd-handshake strategy (FDHandshakeVerifier.Verify) sends its
	// own AUTH_FD_REQ over this same conn and blocks on a side channel,
	// so the client must already be sitting in RecvFrame waiting for
	// either that request or the real response.
	f, err := conn.RecvFrame(d.opts.MaxBodyLen)
	if err != nil {
		log.WithError(err).Info("frame read failed")
		return
	}

	identity, err := d.verifier.Verify(conn)
	if err != nil {
		log.WithError(err).Info("peer identity verification failed")
		return
	}

	switch f.Type {
	case frame.TypeEncReq:
		d.handleEncode(conn, log, identity, f)
	case frame.TypeDecReq:
		d.handleDecode(conn, log, identity, f)
	default:
		log.WithField("type", f.Type).Info("unexpected frame type, dropping connection")
	}
}

func (d *Daemon) handleEncode(conn *transport.Conn, log *logrus.Entry, identity peerid.Identity, f frame.Frame) {
	req, err := frame.UnmarshalEncReq(f.Body)
	if err != nil {
		log.WithError(err).Info("malformed ENC_REQ")
		d.sendEncError(conn, errs.BadArg, err.Error())
		return
	}

	cred, encErr := d.engine.Encode(EncodeRequest{
		PeerUID: identity.UID,
		PeerGID: identity.GID,
		Cipher:  primitive.CipherID(req.Cipher),
		MAC:     primitive.MACID(req.MAC),
		Zip:     primitive.ZipID(req.Zip),
		Realm:   req.Realm,
		TTL:     req.TTL,
		AuthUID: req.AuthUID,
		AuthGID: req.AuthGID,
		Payload: req.Payload,
	})
	if encErr != nil {
		log.WithField("code", encErr.Code).Info("encode rejected")
		d.sendEncError(conn, encErr.Code, encErr.Detail)
		return
	}

	rsp := frame.EncRsp{Credential: []byte(cred)}
	if err := conn.SendFrame(frame.Frame{Type: frame.TypeEncRsp, Body: rsp.Marshal()}); err != nil {
		log.WithError(err).Info("send ENC_RSP failed")
	}
}

func (d *Daemon) handleDecode(conn *transport.Conn, log *logrus.Entry, identity peerid.Identity, f frame.Frame) {
	req, err := frame.UnmarshalDecReq(f.Body)
	if err != nil {
		log.WithError(err).Info("malformed DEC_REQ")
		d.sendDecError(conn, errs.BadArg, err.Error())
		return
	}

	res, decErr := d.engine.Decode(DecodeRequest{
		Credential:   string(req.Credential),
		IgnoreTTL:    req.IgnoreTTL,
		IgnoreReplay: req.IgnoreReplay,
		DecoderUID:   identity.UID,
		DecoderGID:   identity.GID,
	})
	if decErr != nil {
		log.WithField("code", decErr.Code).Info("decode rejected")
		d.sendDecError(conn, decErr.Code, decErr.Detail)
		return
	}

	rsp := frame.DecRsp{
		Payload:    res.Payload,
		CredUID:    res.CredUID,
		CredGID:    res.CredGID,
		AuthUID:    res.AuthUID,
		AuthGID:    res.AuthGID,
		EncodeTime: res.EncodeTime,
		DecodeTime: res.DecodeTime,
		TTL:        res.TTL,
		OriginAddr: res.OriginAddr,
		Realm:      res.Realm,
	}
	if err := conn.SendFrame(frame.Frame{Type: frame.TypeDecRsp, Body: rsp.Marshal()}); err != nil {
		log.WithError(err).Info("send DEC_RSP failed")
	}
}

func (d *Daemon) sendEncError(conn *transport.Conn, code errs.Code, detail string) {
	rsp := frame.EncRsp{ErrorNum: frame.ErrorNum(code), ErrorStr: []byte(detail)}
	_ = conn.SendFrame(frame.Frame{Type: frame.TypeEncRsp, Body: rsp.Marshal()})
}

func (d *Daemon) sendDecError(conn *transport.Conn, code errs.Code, detail string) {
	rsp := frame.DecRsp{ErrorNum: frame.ErrorNum(code), ErrorStr: []byte(detail)}
	_ = conn.SendFrame(frame.Frame{Type: frame.TypeDecRsp, Body: rsp.Marshal()})
}

func (d *Daemon) purgeLoop() {
	ticker := time.NewTicker(ReplayPurgeSecs * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.purgeStop:
			return
		case now := <-ticker.C:
			removed, err := d.replay.Purge(now)
			if err != nil {
				d.log.WithError(err).Error("replay purge failed")
				continue
			}
			if removed > 0 {
				d.log.WithField("removed", removed).Info("replay cache purge")
			}
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func loadKeyfile(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return nil, errors.New("keyfile permissions allow group/other access")
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(key) < MinKeyBytes || len(key) > MaxKeyBytes {
		return nil, errors.Errorf("keyfile length %d outside [%d, %d]", len(key), MinKeyBytes, MaxKeyBytes)
	}
	return key, nil
}

// loadSeedfile reads a prior run's seed file for mixing into the fresh
// entropy pool (spec.md §6 "Seedfile"). A seed file that fails any of
// its checks is refused and removed outright rather than left on disk
// for the next startup to trip over again; a seed file that simply
// doesn't exist yet is not an error.
func loadSeedfile(path string) ([]byte, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		_ = os.Remove(path)
		return nil, errors.New("seedfile must not be a symlink")
	}
	if !fi.Mode().IsRegular() {
		_ = os.Remove(path)
		return nil, errors.New("seedfile must be a regular file")
	}
	if fi.Mode().Perm()&0o077 != 0 {
		_ = os.Remove(path)
		return nil, errors.New("seedfile permissions allow group/other access")
	}
	seed, err := os.ReadFile(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return seed, nil
}

// writeSeedfile persists the daemon's current entropy-pool state to
// path so the next startup's NewPool call can fold it back in, per
// spec.md §4.K's mirrored teardown order.
func (d *Daemon) writeSeedfile(path string) error {
	fresh, err := d.seed.RandomBytes(SeedFileBytes)
	if err != nil {
		return err
	}
	defer primitive.Wipe(fresh)
	return os.WriteFile(path, fresh, 0o600)
}
