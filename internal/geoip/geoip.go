// Package geoip resolves client IP addresses to ISO country codes using a
// local MaxMind-format database. The reader is hot-reloaded behind an
// RWMutex so the database file can be replaced without a restart.
package geoip

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"
)

// Reader abstracts the country database so tests can stub lookups.
type Reader interface {
	Country(ip net.IP) string
	Close() error
}

// OpenFunc opens a database file and returns a Reader.
type OpenFunc func(path string) (Reader, error)

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

type maxmindReader struct {
	db *maxminddb.Reader
}

func (r *maxmindReader) Country(ip net.IP) string {
	var rec countryRecord
	if err := r.db.Lookup(ip, &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

func (r *maxmindReader) Close() error { return r.db.Close() }

// MaxMindOpen is the production OpenFunc. It accepts any mmdb whose
// records carry a country.iso_code field (GeoLite2-Country and
// compatible community databases).
func MaxMindOpen(path string) (Reader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &maxmindReader{db: db}, nil
}

type noOpReader struct{}

func (noOpReader) Country(_ net.IP) string { return "" }
func (noOpReader) Close() error            { return nil }

// NoOpOpen returns a reader that resolves every IP to the empty string.
// Used in tests and when no database is configured.
func NoOpOpen(_ string) (Reader, error) { return noOpReader{}, nil }

// ServiceConfig configures the lookup service.
type ServiceConfig struct {
	// DBPath is the mmdb file on disk. Empty disables lookups entirely.
	DBPath string
	// ReloadSchedule is a cron expression for checking the file for
	// changes. Default "17 4 * * *".
	ReloadSchedule string
	// Open opens the database. Default MaxMindOpen.
	Open OpenFunc
}

// Service provides country lookups with scheduled hot reload.
type Service struct {
	mu     sync.RWMutex
	reader Reader

	dbPath   string
	open     OpenFunc
	cron     *cron.Cron
	loadedAt time.Time
}

// NewService creates a lookup service. Call Start to load the database
// and begin the reload schedule.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Open == nil {
		cfg.Open = MaxMindOpen
	}
	if cfg.ReloadSchedule == "" {
		cfg.ReloadSchedule = "17 4 * * *"
	}
	s := &Service{
		dbPath: cfg.DBPath,
		open:   cfg.Open,
		cron:   cron.New(),
	}
	if cfg.DBPath != "" {
		if _, err := s.cron.AddFunc(cfg.ReloadSchedule, s.reloadIfChanged); err != nil {
			log.Printf("[geoip] invalid reload schedule %q: %v", cfg.ReloadSchedule, err)
		}
	}
	return s
}

// Start loads the database and starts the reload scheduler. A missing or
// unreadable file is an error only when a path was configured.
func (s *Service) Start() error {
	if s.dbPath == "" {
		return nil
	}
	if err := s.reload(); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and closes the reader.
func (s *Service) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	r := s.reader
	s.reader = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Country returns the ISO 3166-1 code for ip, or "" when the address is
// unknown or no database is loaded.
func (s *Service) Country(ip net.IP) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return ""
	}
	return s.reader.Country(ip)
}

// Enabled reports whether a database path is configured.
func (s *Service) Enabled() bool { return s.dbPath != "" }

func (s *Service) reloadIfChanged() {
	info, err := os.Stat(s.dbPath)
	if err != nil {
		log.Printf("[geoip] stat %s: %v", s.dbPath, err)
		return
	}
	s.mu.RLock()
	loadedAt := s.loadedAt
	s.mu.RUnlock()
	if !info.ModTime().After(loadedAt) {
		return
	}
	if err := s.reload(); err != nil {
		log.Printf("[geoip] reload failed: %v", err)
	}
}

// reload opens the file and swaps the reader. Readers in flight finish
// on the old handle before it is closed.
func (s *Service) reload() error {
	newReader, err := s.open(s.dbPath)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", s.dbPath, err)
	}
	info, err := os.Stat(s.dbPath)
	if err != nil {
		newReader.Close()
		return fmt.Errorf("geoip: stat %s: %w", s.dbPath, err)
	}
	s.mu.Lock()
	old := s.reader
	s.reader = newReader
	s.loadedAt = info.ModTime()
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	log.Printf("[geoip] loaded %s (modified %s)", s.dbPath, info.ModTime().Format(time.RFC3339))
	return nil
}
