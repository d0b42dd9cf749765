// Command etd runs one ET backing system: it creates or opens the backing
// map, seeds the station graph and event pool, starts GrandCentral's
// conductor, the per-process heartbeat and system monitor, and — if
// configured — the remote TCP/UDP server.
//
// Grounded on the teacher's signals.go WaitForQuit/GetQuitChannel pattern
// for graceful shutdown on SIGHUP/SIGINT/SIGQUIT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/backing"
	"github.com/JeffersonLab/et-sub001/internal/config"
	"github.com/JeffersonLab/et-sub001/internal/conductor"
	"github.com/JeffersonLab/et-sub001/internal/elog"
	"github.com/JeffersonLab/et-sub001/internal/heartbeat"
	"github.com/JeffersonLab/et-sub001/internal/netserver"
	"github.com/JeffersonLab/et-sub001/internal/pool"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/JeffersonLab/et-sub001/internal/tempstore"
)

func main() {
	confPath := flag.String("config", "/etc/et/system.conf", "path to system .conf file")
	create := flag.Bool("create", false, "create a new backing file instead of opening an existing one")
	logPath := flag.String("log", "", "log file path (default: stderr)")
	flag.Parse()

	log, err := openLogger(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etd: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Errorf("failed to load config %q: %v", *confPath, err)
		os.Exit(1)
	}

	sys, err := openOrCreate(cfg, *create)
	if err != nil {
		log.Errorf("failed to open backing system: %v", err)
		os.Exit(1)
	}
	defer sys.Close()
	log.Infof("system %q opened at %s", cfg.System.Name, cfg.System.Path)

	graph := station.NewGraph()
	atts := attach.NewRegistry()
	temps := tempstore.New(tempDir(cfg.System.Path), cfg.System.Name)
	p := pool.New(graph, atts, temps, uint32(cfg.System.EventSize), uint16(len(cfg.System.GroupCounts)))
	p.Init(int(cfg.System.Events))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := heartbeat.NewTable()
	tick := time.Second / time.Duration(max1(cfg.System.TickHz))
	go heartbeat.Heartbeat(ctx, sys, table, 0, tick)
	mon := heartbeat.NewMonitor(sys, table, atts, graph, p)
	go mon.Run(ctx, tick)

	gcCond := conductor.New(graph, graph.GrandCentral(), 0)
	go gcCond.Run(ctx)

	if cfg.System.TCPPort != 0 {
		srv := netserver.New(p, graph, atts, netserver.Config{
			TCPAddr:   fmt.Sprintf(":%d", cfg.System.TCPPort),
			UDPAddr:   fmt.Sprintf(":%d", cfg.System.UDPPort),
			Secret:    []byte(os.Getenv("ET_SECRET")),
			SystemID:  0,
			Sys:       sys,
			CachePath: cfg.System.Path + ".discovery",
		})
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Errorf("netserver exited: %v", err)
			}
		}()
		log.Infof("remote server listening on TCP :%d UDP :%d", cfg.System.TCPPort, cfg.System.UDPPort)
	}

	sig := waitForQuit()
	log.Infof("received signal %v, shutting down", sig)
	gcCond.Stop()
	sys.Kill()
}

func tempDir(systemPath string) string {
	dir := systemPath + ".tmp"
	_ = os.MkdirAll(dir, 0755)
	return dir
}

func max1(hz uint32) uint32 {
	if hz == 0 {
		return 1
	}
	return hz
}

func openLogger(path string) (*elog.Logger, error) {
	if path == "" {
		return elog.New(os.Stderr), nil
	}
	return elog.NewFile(path)
}

func openOrCreate(cfg config.System, create bool) (*backing.System, error) {
	bcfg := backing.Config{
		NEvents:      cfg.System.Events,
		EventCap:     uint32(cfg.System.EventSize),
		NStations:    cfg.System.Stations,
		NTemps:       cfg.System.Temps,
		NAttachments: cfg.System.Attachments,
		NProcesses:   cfg.System.Processes,
		SelectInts:   cfg.System.SelectInts,
		GroupCounts:  cfg.System.GroupCounts,
		TickHz:       cfg.System.TickHz,
		TCPPort:      cfg.System.TCPPort,
		HostName:     cfg.System.Name,
	}
	if create {
		return backing.Create(cfg.System.Path, bcfg)
	}
	return backing.Open(cfg.System.Path)
}

// waitForQuit blocks until SIGHUP/SIGINT/SIGQUIT/SIGTERM, mirroring the
// teacher's utils.WaitForQuit.
func waitForQuit() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	return <-quit
}
