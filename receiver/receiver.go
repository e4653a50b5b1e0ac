// Package receiver implements the UDP multicast ShredReceiver: batched
// kernel-timestamped receive of shred datagrams on a named interface
// (spec.md §4.1).
package receiver

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"runtime"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"shredlead/clock"
	"shredlead/types"
)

const (
	// TargetRecvBufferBytes is the kernel receive buffer size this
	// receiver tries to set; it falls back and warns if the OS forbids it.
	TargetRecvBufferBytes = 256 * 1024 * 1024

	// BatchSize is the target number of datagrams read per syscall.
	BatchSize = 64

	maxDatagramSize = 1280

	// ChannelCapacity sizes the SPSC handoff channel so that a 50ms stall
	// downstream does not drop traffic at typical shred rates.
	ChannelCapacity = 16384
)

// Config configures one ShredReceiver.
type Config struct {
	SourceId      types.SourceId
	MulticastAddr string
	Port          uint16
	Interface     string
	PinRecvCore   *int
}

// Receiver joins a multicast group and emits RawShred events on Out until
// Close is called or the context is cancelled.
type Receiver struct {
	cfg Config
	log *slog.Logger

	conn *ipv4.PacketConn
	raw  *net.UDPConn

	Out           chan types.RawShred
	ShredsDropped uint64

	// rtToMonoOffsetNs converts a CLOCK_REALTIME kernel timestamp (as
	// reported by SO_TIMESTAMPNS) into the CLOCK_MONOTONIC_RAW domain used
	// by every other core timestamp: mono = realtime + offset.
	rtToMonoOffsetNs int64
}

// New binds the receiver's socket and joins the multicast group. Any
// failure here is a SourceInitError: fatal to this source only.
func New(cfg Config, log *slog.Logger) (*Receiver, error) {
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("receiver %s: interface %q not found: %w", cfg.SourceId, cfg.Interface, err)
	}

	laddr := &net.UDPAddr{Port: int(cfg.Port)}
	udpConn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("receiver %s: bind port %d: %w", cfg.SourceId, cfg.Port, err)
	}

	pc := ipv4.NewPacketConn(udpConn)
	group := net.ParseIP(cfg.MulticastAddr)
	if group == nil {
		udpConn.Close()
		return nil, fmt.Errorf("receiver %s: invalid multicast address %q", cfg.SourceId, cfg.MulticastAddr)
	}
	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("receiver %s: join multicast group %s on %s denied: %w", cfg.SourceId, cfg.MulticastAddr, cfg.Interface, err)
	}
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("receiver %s: enable control messages: %w", cfg.SourceId, err)
	}

	setRecvBuffer(udpConn, log, cfg.SourceId)
	enableKernelTimestamping(udpConn, log, cfg.SourceId)

	return &Receiver{
		cfg:              cfg,
		log:              log,
		conn:             pc,
		raw:              udpConn,
		Out:              make(chan types.RawShred, ChannelCapacity),
		rtToMonoOffsetNs: sampleRealtimeToMonotonicOffsetNs(),
	}, nil
}

// sampleRealtimeToMonotonicOffsetNs samples CLOCK_REALTIME and
// CLOCK_MONOTONIC_RAW back-to-back and returns the offset to add to a
// realtime nanosecond value to express it in the monotonic domain. It is
// sampled once at startup, not per-packet, since both clocks advance at
// (approximately) the same rate between samples.
func sampleRealtimeToMonotonicOffsetNs() int64 {
	var rt, mono unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_REALTIME, &rt)
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &mono)
	rtNs := rt.Sec*1e9 + rt.Nsec
	monoNs := mono.Sec*1e9 + mono.Nsec
	return monoNs - rtNs
}

// setRecvBuffer requests the target kernel receive buffer size, falling
// back to whatever the OS allows and logging a warning.
func setRecvBuffer(conn *net.UDPConn, log *slog.Logger, id types.SourceId) {
	if err := conn.SetReadBuffer(TargetRecvBufferBytes); err != nil {
		if log != nil {
			log.Warn("receive buffer below target; falling back to OS default", "source", id.Name, "target_bytes", TargetRecvBufferBytes, "err", err)
		}
	}
}

// enableKernelTimestamping turns on SO_TIMESTAMPNS so every received
// datagram carries a kernel-stamped CLOCK_REALTIME value in its control
// message, read back per-packet in ReadBatch.
func enableKernelTimestamping(conn *net.UDPConn, log *slog.Logger, id types.SourceId) {
	raw, err := conn.SyscallConn()
	if err != nil {
		if log != nil {
			log.Warn("cannot access raw socket for timestamping", "source", id.Name, "err", err)
		}
		return
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
	})
	if err != nil || sockErr != nil {
		if log != nil {
			log.Warn("failed to enable SO_TIMESTAMPNS", "source", id.Name, "err", err, "sockErr", sockErr)
		}
	}
}

// Run drives the batch receive loop. It never blocks except in the batch
// read syscall and in the bounded channel send; on overflow it drops the
// newest datagram and increments ShredsDropped, per spec.md §4.1.
func (r *Receiver) Run(ctx context.Context) {
	if r.cfg.PinRecvCore != nil {
		PinToCore(*r.cfg.PinRecvCore, r.log, r.cfg.SourceId)
	}

	msgs := make([]ipv4.Message, BatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagramSize)}
		msgs[i].OOB = make([]byte, unix.CmsgSpace(16)) // room for one SCM_TIMESTAMPNS
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.conn.ReadBatch(msgs, 0)
		if err != nil {
			if r.log != nil {
				r.log.Error("receive batch failed", "source", r.cfg.SourceId.Name, "err", err)
			}
			continue
		}

		recvNow := clock.Now()
		for i := 0; i < n; i++ {
			m := msgs[i]
			recvTime := r.kernelTimestamp(m.OOB[:m.NN], recvNow)
			payload := make([]byte, m.N)
			copy(payload, m.Buffers[0][:m.N])

			raw := types.RawShred{
				SourceId: r.cfg.SourceId,
				RecvTime: recvTime,
				Bytes:    payload,
			}
			if m.Addr != nil {
				raw.SrcAddr = m.Addr.String()
			}

			select {
			case r.Out <- raw:
			default:
				r.ShredsDropped++
			}
		}
	}
}

// kernelTimestamp extracts SCM_TIMESTAMPNS from a control message buffer and
// converts it into the monotonic domain via the receiver's startup offset
// sample. It falls back to the recv-loop's own monotonic sample if the
// control message is absent or malformed.
func (r *Receiver) kernelTimestamp(oob []byte, fallback clock.MonoTime) clock.MonoTime {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fallback
	}
	for _, c := range cmsgs {
		if c.Header.Level == unix.SOL_SOCKET && c.Header.Type == unix.SO_TIMESTAMPNS && len(c.Data) >= 16 {
			rtNs := int64(binary.NativeEndian.Uint64(c.Data[0:8]))*1e9 + int64(binary.NativeEndian.Uint64(c.Data[8:16]))
			return clock.MonoTime(rtNs + r.rtToMonoOffsetNs)
		}
	}
	return fallback
}

// PinToCore best-effort pins the calling OS thread to the given CPU core,
// per spec.md §6's pin_recv_core/pin_decode_core config fields. Callers must
// run it from the goroutine they want pinned: it calls runtime.LockOSThread
// so that goroutine never migrates off the pinned thread.
func PinToCore(core int, log *slog.Logger, id types.SourceId) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil && log != nil {
		log.Warn("failed to pin thread to core", "source", id.Name, "core", core, "err", err)
	}
}

// Close releases the receiver's socket.
func (r *Receiver) Close() error {
	return r.raw.Close()
}
