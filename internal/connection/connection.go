package connection

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/fdsignal"
	"github.com/ias-audio/smartx-bridge/internal/ipc"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/procsync"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
	"github.com/ias-audio/smartx-bridge/internal/shm"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var log = logctx.For("connection")

// Connection is the shared-memory aggregate of spec.md §4.9 and the data
// model's "Connection" row.
type Connection struct {
	name       string
	group      string
	runtimeDir string
	isCreator  bool

	region      *shm.Region
	rbFactory   *ringbuffer.Factory
	constraints *HwConstraints
	updAvail    *int32
	openOnceMu  *procsync.Mutex

	inIpc  *ipc.Queue
	outIpc *ipc.Queue

	rb         ringbuffer.RingBuffer
	deviceType ringbuffer.DeviceType
	fdSig      *fdsignal.Signal
}

// totalSize accounts for the fixed set of shared records spec.md §4.9
// step 1 lists: two IPC endpoints, the HW-constraints descriptor, two
// 32-bit integers of bookkeeping slack, one bool, and one open-once
// mutex.
func totalSize() int {
	return 2*ipc.StateSize() + int(unsafe.Sizeof(HwConstraints{})) + 2*4 + 4 + procsync.SizeofMutex + 4096
}

// CreateConnection is spec.md §4.9's createConnection(name, group): the
// server-side constructor.
func CreateConnection(paths config.Paths, rbFactory *ringbuffer.Factory, name, group string, hw HwConstraints) (*Connection, error) {
	safeName := config.SanitizeName(name)
	region, err := shm.NewShared(paths.ShmRoot, safeName, totalSize(), shm.Create, group)
	if err != nil {
		return nil, fmt.Errorf("connection: create %s: %w", safeName, err)
	}

	c := &Connection{name: safeName, group: group, runtimeDir: paths.RuntimeDir, isCreator: true, region: region, rbFactory: rbFactory}

	hwPtr, err := shm.AllocateT[HwConstraints](region, "hwconstraints", 1)
	if err != nil {
		region.Close()
		return nil, err
	}
	*hwPtr = hw
	hwPtr.Valid = 1
	c.constraints = hwPtr

	updPtr, err := shm.AllocateT[int32](region, "update_available", 1)
	if err != nil {
		region.Close()
		return nil, err
	}
	*updPtr = 1
	c.updAvail = updPtr

	ipcBytes, err := region.AllocateBytes("ipc_endpoints", 2*ipc.StateSize(), int(unsafe.Alignof(uintptr(0))))
	if err != nil {
		region.Close()
		return nil, err
	}
	arr0, err := ipc.InitQueue(unsafe.Pointer(ipcBytes))
	if err != nil {
		region.Close()
		return nil, err
	}
	arr1, err := ipc.InitQueue(unsafe.Pointer(unsafe.Add(unsafe.Pointer(ipcBytes), ipc.StateSize())))
	if err != nil {
		region.Close()
		return nil, err
	}
	// arr[1] is inIpc, arr[0] is outIpc, per spec.md §4.9 step 3.
	c.inIpc = arr1
	c.outIpc = arr0

	muBytes, err := region.AllocateBytes("open_once_mutex", procsync.SizeofMutex, int(unsafe.Alignof(uintptr(0))))
	if err != nil {
		region.Close()
		return nil, err
	}
	c.openOnceMu, err = procsync.InitMutexAt(unsafe.Pointer(muBytes))
	if err != nil {
		region.Close()
		return nil, err
	}

	log.Info("created connection", "name", safeName)
	return c, nil
}

// FindConnection is spec.md §4.9's findConnection(name): the client-side
// constructor. The IPC endpoints are bound with the opposite assignment
// from the creator's.
func FindConnection(paths config.Paths, rbFactory *ringbuffer.Factory, name string) (*Connection, error) {
	safeName := config.SanitizeName(name)
	region, err := shm.NewShared(paths.ShmRoot, safeName, 0, shm.Connect, "")
	if err != nil {
		return nil, fmt.Errorf("%w: connection %s", xerr.ErrNotFound, safeName)
	}

	c := &Connection{name: safeName, runtimeDir: paths.RuntimeDir, isCreator: false, region: region, rbFactory: rbFactory}

	hwPtr, _, err := shm.FindT[HwConstraints](region, "hwconstraints")
	if err != nil {
		region.Close()
		return nil, err
	}
	c.constraints = hwPtr

	updPtr, _, err := shm.FindT[int32](region, "update_available")
	if err != nil {
		region.Close()
		return nil, err
	}
	c.updAvail = updPtr

	ipcPtr, _, err := shm.FindT[byte](region, "ipc_endpoints")
	if err != nil {
		region.Close()
		return nil, err
	}
	arr0 := ipc.AttachQueue(unsafe.Pointer(ipcPtr))
	arr1 := ipc.AttachQueue(unsafe.Pointer(unsafe.Add(unsafe.Pointer(ipcPtr), ipc.StateSize())))
	// client-in = server-out, client-out = server-in.
	c.inIpc = arr0
	c.outIpc = arr1

	muPtr, _, err := shm.FindT[byte](region, "open_once_mutex")
	if err != nil {
		region.Close()
		return nil, err
	}
	c.openOnceMu = procsync.AttachMutexAt(unsafe.Pointer(muPtr))

	return c, nil
}

// deviceTypeFromName implements spec.md §4.9's suffix rule.
func deviceTypeFromName(name string) (ringbuffer.DeviceType, error) {
	switch {
	case strings.HasSuffix(name, "_c"):
		return ringbuffer.Sink, nil
	case strings.HasSuffix(name, "_p"):
		return ringbuffer.Source, nil
	default:
		return 0, fmt.Errorf("%w: connection name %q has no _c/_p suffix", xerr.ErrInvalidParam, name)
	}
}

// CreateRingBuffer is spec.md §4.9's createRingBuffer(params).
func (c *Connection) CreateRingBuffer(params ringbuffer.Params) error {
	if !c.isCreator {
		return xerr.ErrNotAllowed
	}
	c.setUpdateAvailable(false)

	if c.rb != nil {
		_ = c.rbFactory.Release(c.name, true)
		c.rb = nil
	}

	params.Name = c.name
	rb, err := c.rbFactory.CreateSharedReal(params)
	if err != nil {
		return err
	}

	fdPath, err := fdsignal.Create(c.runtimeDir, c.name, c.group)
	if err != nil {
		return err
	}
	sig, err := fdsignal.Open(fdPath, true)
	if err != nil {
		return err
	}

	dt, err := deviceTypeFromName(c.name)
	if err != nil {
		sig.Close()
		return err
	}
	c.deviceType = dt

	if real, ok := rb.(*ringbuffer.Real); ok {
		real.BindFDSignal(sig)
	}

	c.rb = rb
	c.fdSig = sig
	c.setUpdateAvailable(true)
	return nil
}

func (c *Connection) setUpdateAvailable(v bool) {
	if v {
		*c.updAvail = 1
	} else {
		*c.updAvail = 0
	}
}

func (c *Connection) updateAvailable() bool { return *c.updAvail != 0 }

// VerifyAndGetRingBuffer is spec.md §4.9's verifyAndGetRingBuffer: looks
// the ring buffer up by name if the update-available flag is set or none
// is bound yet, then clears the flag on success.
func (c *Connection) VerifyAndGetRingBuffer(params ringbuffer.Params) (ringbuffer.RingBuffer, error) {
	if c.updateAvailable() || c.rb == nil {
		params.Name = c.name
		rb, err := c.rbFactory.FindRingBuffer(params)
		if err != nil {
			return nil, err
		}
		c.rb = rb
		c.setUpdateAvailable(false)
	}
	return c.rb, nil
}

func (c *Connection) InIpc() *ipc.Queue             { return c.inIpc }
func (c *Connection) OutIpc() *ipc.Queue            { return c.outIpc }
func (c *Connection) Constraints() *HwConstraints   { return c.constraints }
func (c *Connection) Name() string                  { return c.name }
func (c *Connection) DeviceType() ringbuffer.DeviceType { return c.deviceType }
func (c *Connection) FDSignal() *fdsignal.Signal    { return c.fdSig }
func (c *Connection) OpenOnceMutex() *procsync.Mutex { return c.openOnceMu }

// Close tears the connection down. Owned objects (the shared region,
// the ring buffer, the FD signal) are only deleted when this instance is
// the creator, per spec.md §4.9's destructor rule.
func (c *Connection) Close() error {
	if c.isCreator {
		if c.rb != nil {
			_ = c.rbFactory.Release(c.name, true)
		}
		if c.fdSig != nil {
			path := c.runtimeDir + "/" + c.name
			c.fdSig.Close()
			_ = fdsignal.Remove(path)
		}
		if c.region != nil {
			_ = c.region.Remove()
		}
	} else if c.fdSig != nil {
		c.fdSig.Close()
	}
	if c.region != nil {
		return c.region.Close()
	}
	return nil
}
