// Command rpma-hello is a small demonstration of the library's register,
// send/recv, and write+commit paths over a single TCP loopback connection.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/behrlich/rpma"
	"github.com/behrlich/rpma/internal/logging"
	"github.com/behrlich/rpma/internal/wire"
)

func main() {
	var (
		role    = flag.String("role", "server", "server or client")
		addr    = flag.String("addr", "127.0.0.1", "address to bind or dial")
		port    = flag.String("port", "7471", "service (port) to bind or dial")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	switch *role {
	case "server":
		runServer(*addr, *port, logger)
	case "client":
		runClient(*addr, *port, logger)
	default:
		log.Fatalf("unknown -role %q: want server or client", *role)
	}
}

func runServer(addr, port string, logger *logging.Logger) {
	cfg, err := rpma.NewConfig().SetAddr(addr)
	mustNoError(err, "set_addr")
	cfg, err = cfg.SetService(port)
	mustNoError(err, "set_service")
	cfg, err = cfg.SetFlags(rpma.IsServer)
	mustNoError(err, "set_flags")

	region := make([]byte, 4096)

	var zone *rpma.Zone
	var mr *rpma.MemoryRegionLocal
	zone, err = rpma.NewZone(cfg, nil, func(z *rpma.Zone, event rpma.EventKind, conn *rpma.Connection, uarg any) error {
		if event != rpma.EventIncoming {
			return nil
		}
		if err := z.Accept(conn); err != nil {
			return err
		}
		logger.Info("peer connected", "id", conn.ID())
		go func() {
			idSlot, idBuf := conn.GetSendSlot()
			n := copy(idBuf, mr.Id().Marshal())
			if err := conn.Send(idSlot, idBuf[:n]); err != nil {
				logger.Error("failed to advertise region id", "error", err)
				return
			}
			hello, err := conn.Recv()
			if err != nil {
				logger.Error("recv failed", "error", err)
				return
			}
			logger.Info("received message", "payload", string(hello))
		}()
		return nil
	}, nil)
	mustNoError(err, "new_zone")

	mr, err = zone.NewMemoryRegionLocal(region, rpma.AccessWriteDst|rpma.AccessReadSrc)
	mustNoError(err, "memory_local_new")
	defer mr.Close()

	mustNoError(zone.Listen(), "listen")
	logger.Info("listening", "addr", zone.ListenAddr(), "rkey", mr.Id().RKey)
	fmt.Printf("server listening on %s (rkey=%d)\n", zone.ListenAddr(), mr.Id().RKey)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		zone.WaitBreak()
	}()

	if err := zone.WaitConnections(); err != nil {
		logger.Error("wait_connections failed", "error", err)
		os.Exit(1)
	}

	snap := zone.Metrics()
	fmt.Printf("connections accepted=%d closed=%d recv_ops=%d\n",
		snap.ConnectionsAccepted, snap.ConnectionsClosed, snap.RecvOps)
}

func runClient(addr, port string, logger *logging.Logger) {
	cfg, err := rpma.NewConfig().SetAddr(addr)
	mustNoError(err, "set_addr")
	cfg, err = cfg.SetService(port)
	mustNoError(err, "set_service")

	done := make(chan error, 1)
	var zone *rpma.Zone
	zone, err = rpma.NewZone(cfg, nil, func(z *rpma.Zone, event rpma.EventKind, conn *rpma.Connection, uarg any) error {
		if event != rpma.EventOutgoing {
			return nil
		}
		go func() { done <- talk(z, logger) }()
		return nil
	}, nil)
	mustNoError(err, "new_zone")

	go func() {
		if err := zone.WaitConnections(); err != nil {
			logger.Error("wait_connections failed", "error", err)
		}
	}()

	if err := <-done; err != nil {
		logger.Error("client session failed", "error", err)
		os.Exit(1)
	}
	zone.WaitBreak()
}

func talk(z *rpma.Zone, logger *logging.Logger) error {
	conn, err := z.Dial()
	if err != nil {
		return err
	}
	if err := conn.Establish(); err != nil {
		return err
	}
	defer conn.Disconnect()
	logger.Info("connected", "id", conn.ID())

	idMsg, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("recv region id: %w", err)
	}
	id, err := wire.UnmarshalMemoryId(idMsg)
	if err != nil {
		return fmt.Errorf("unmarshal region id: %w", err)
	}
	remote, err := z.NewMemoryRegionRemote(id)
	if err != nil {
		return fmt.Errorf("memory_remote_new: %w", err)
	}

	slot, buf := conn.GetSendSlot()
	n := copy(buf, []byte("hello from rpma-hello"))
	if err := conn.Send(slot, buf[:n]); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	local := make([]byte, 4096)
	binary.LittleEndian.PutUint64(local, uint64(time.Now().Unix()))
	localRegion, err := z.NewMemoryRegionLocal(local, rpma.AccessWriteSrc)
	if err != nil {
		return fmt.Errorf("memory_local_new: %w", err)
	}
	defer localRegion.Close()

	if err := conn.Write(remote, 0, localRegion, 0, 8); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := conn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Println("connected; message sent; write+commit complete")
	return nil
}

func mustNoError(err error, step string) {
	if err != nil {
		log.Fatalf("%s: %v", step, err)
	}
}
