//go:build linux

package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// helperEnv marks a process started as the confinement helper. The helper
// reads its configuration from fd 3, reports failures on fd 4 and execs the
// real command, which inherits the Landlock domain.
const (
	helperEnv      = "_SANDBOX_RUNNER_CONFINE"
	helperConfigFD = 3
	helperStatusFD = 4
)

// Landlock filesystem access rights.
const (
	accessFSExecute    = 1 << 0
	accessFSWriteFile  = 1 << 1
	accessFSReadFile   = 1 << 2
	accessFSReadDir    = 1 << 3
	accessFSRemoveDir  = 1 << 4
	accessFSRemoveFile = 1 << 5
	accessFSMakeChar   = 1 << 6
	accessFSMakeDir    = 1 << 7
	accessFSMakeReg    = 1 << 8
	accessFSMakeSock   = 1 << 9
	accessFSMakeFifo   = 1 << 10
	accessFSMakeBlock  = 1 << 11
	accessFSMakeSym    = 1 << 12
	accessFSRefer      = 1 << 13 // ABI v2
	accessFSTruncate   = 1 << 14 // ABI v3

	fileAccess = accessFSExecute | accessFSWriteFile | accessFSReadFile | accessFSTruncate

	landlockCreateRulesetVersion = 1
	landlockRulePathBeneath      = 1
)

// systemReadPaths are readable by every confined process.
var systemReadPaths = []string{"/usr", "/lib", "/lib64", "/lib32", "/etc", "/bin", "/sbin", "/proc", "/dev", "/sys/devices/system/cpu"}

// deviceFiles may be written by every confined process.
var deviceFiles = []string{"/dev/null", "/dev/zero", "/dev/full"}

type landlockRulesetAttr struct {
	handledAccessFS uint64
}

type landlockPathBeneathAttr struct {
	allowedAccess uint64
	parentFd      int32
	_             [4]byte
}

// landlockABI is the kernel's Landlock ABI version, or 0 when unsupported.
var landlockABI = sync.OnceValue(func() int {
	v, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, landlockCreateRulesetVersion)
	if errno != 0 {
		return 0
	}
	return int(v)
})

var warnUnconfined = sync.OnceFunc(func() {
	slog.Warn("landlock is not available, executions are not confined to their directory")
})

type helperConfig struct {
	ABI      int      `json:"abi"`
	Path     string   `json:"path"`
	Writable []string `json:"writable"`
	ReadOnly []string `json:"read_only"`
	Limits   Limits   `json:"limits"`
}

// helper is the parent's end of a confined start.
type helper struct {
	cfg              helperConfig
	configR, configW *os.File
	statusR, statusW *os.File
}

// confine rewrites cmd to start through the confinement helper when
// spec.Limits.Filesystem is set. It returns nil when the process runs
// unconfined.
func confine(cmd *exec.Cmd, spec Spec) (*helper, error) {
	fs := spec.Limits.Filesystem
	if fs == nil || cmd.Err != nil {
		return nil, nil
	}
	abi := landlockABI()
	if abi == 0 {
		if fs.Required {
			return nil, fmt.Errorf("%w: landlock is not supported by this kernel", ErrConfinement)
		}
		warnUnconfined()
		return nil, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("%w: locating helper: %w", ErrConfinement, err)
	}

	target := cmd.Path
	if !filepath.IsAbs(target) {
		target = filepath.Join(spec.Dir, target)
	}
	limits := spec.Limits
	limits.Filesystem = nil
	h := &helper{cfg: helperConfig{
		ABI:      abi,
		Path:     target,
		Writable: append([]string{spec.Dir}, fs.Writable...),
		ReadOnly: append(interpreterRoots(target), fs.ReadOnly...),
		Limits:   limits,
	}}
	if h.configR, h.configW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfinement, err)
	}
	if h.statusR, h.statusW, err = os.Pipe(); err != nil {
		h.abort()
		return nil, fmt.Errorf("%w: %w", ErrConfinement, err)
	}

	cmd.Path = self
	cmd.Args = append([]string{self}, cmd.Args...)
	cmd.Env = append(slices.Clip(cmd.Env), helperEnv+"=1")
	cmd.ExtraFiles = []*os.File{h.configR, h.statusW}
	return h, nil
}

// interpreterRoots returns the installation prefixes of the interpreter at
// path, both as named and with symlinks resolved.
func interpreterRoots(path string) []string {
	var roots []string
	candidates := []string{path}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		candidates = append(candidates, real)
	}
	for _, p := range candidates {
		root := filepath.Dir(filepath.Dir(p))
		if root == "/" || slices.Contains(roots, root) {
			continue
		}
		roots = append(roots, root)
	}
	return roots
}

// handOff sends the configuration to a started helper and waits until it
// has either exec'd the command or reported why it could not.
func (h *helper) handOff() error {
	if h == nil {
		return nil
	}
	h.configR.Close()
	h.statusW.Close()
	// A write error means the helper already exited; its status says why.
	_ = json.NewEncoder(h.configW).Encode(h.cfg)
	h.configW.Close()
	msg, err := io.ReadAll(h.statusR)
	h.statusR.Close()
	if err != nil {
		return err
	}
	if len(msg) > 0 {
		return errors.New(string(msg))
	}
	return nil
}

// abort releases the pipes of a helper that was never started.
func (h *helper) abort() {
	if h == nil {
		return
	}
	for _, f := range []*os.File{h.configR, h.configW, h.statusR, h.statusW} {
		if f != nil {
			f.Close()
		}
	}
}

// MaybeInit runs the confinement helper when the process was started as
// one and never returns in that case. Programs that run confined processes
// call it first thing in main, and their tests from TestMain.
func MaybeInit() {
	if os.Getenv(helperEnv) == "" {
		return
	}
	runtime.LockOSThread()
	status := os.NewFile(helperStatusFD, "status")
	fmt.Fprint(status, runHelper())
	os.Exit(126)
}

func runHelper() error {
	unix.CloseOnExec(helperStatusFD)
	var cfg helperConfig
	f := os.NewFile(helperConfigFD, "config")
	err := json.NewDecoder(f).Decode(&cfg)
	f.Close()
	if err != nil {
		return fmt.Errorf("decoding helper config: %w", err)
	}
	if len(os.Args) < 2 {
		return errors.New("no command to exec")
	}
	os.Unsetenv(helperEnv)

	if err := applyLimits(0, cfg.Limits); err != nil {
		return err
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("setting no_new_privs: %w", err)
	}
	if err := restrictFilesystem(cfg); err != nil {
		return err
	}
	if err := unix.Exec(cfg.Path, os.Args[1:], os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", cfg.Path, err)
	}
	return nil
}

// restrictFilesystem applies a Landlock domain to the calling thread.
func restrictFilesystem(cfg helperConfig) error {
	handled := uint64(accessFSExecute | accessFSWriteFile | accessFSReadFile |
		accessFSReadDir | accessFSRemoveDir | accessFSRemoveFile |
		accessFSMakeChar | accessFSMakeDir | accessFSMakeReg |
		accessFSMakeSock | accessFSMakeFifo | accessFSMakeBlock |
		accessFSMakeSym)
	write := uint64(accessFSExecute | accessFSWriteFile | accessFSReadFile |
		accessFSReadDir | accessFSRemoveDir | accessFSRemoveFile |
		accessFSMakeDir | accessFSMakeReg | accessFSMakeSym)
	read := uint64(accessFSExecute | accessFSReadFile | accessFSReadDir)
	device := uint64(accessFSReadFile | accessFSWriteFile)
	if cfg.ABI >= 2 {
		handled |= accessFSRefer
		write |= accessFSRefer
	}
	if cfg.ABI >= 3 {
		handled |= accessFSTruncate
		write |= accessFSTruncate
		device |= accessFSTruncate
	}

	attr := landlockRulesetAttr{handledAccessFS: handled}
	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("landlock_create_ruleset: %w", errno)
	}
	ruleset := int(fd)
	defer unix.Close(ruleset)

	for _, p := range cfg.Writable {
		if err := addPathRule(ruleset, p, write); err != nil {
			return fmt.Errorf("writable %s: %w", p, err)
		}
	}
	for _, p := range append(slices.Clone(systemReadPaths), cfg.ReadOnly...) {
		if err := addPathRule(ruleset, p, read); err != nil && !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("read-only %s: %w", p, err)
		}
	}
	for _, p := range deviceFiles {
		if err := addPathRule(ruleset, p, device); err != nil && !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("device %s: %w", p, err)
		}
	}

	if _, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(ruleset), 0, 0); errno != 0 {
		return fmt.Errorf("landlock_restrict_self: %w", errno)
	}
	return nil
}

func addPathRule(ruleset int, path string, access uint64) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		access &= fileAccess
	}

	attr := landlockPathBeneathAttr{allowedAccess: access, parentFd: int32(fd)}
	_, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE, uintptr(ruleset), landlockRulePathBeneath, uintptr(unsafe.Pointer(&attr)), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("landlock_add_rule: %w", errno)
	}
	return nil
}
