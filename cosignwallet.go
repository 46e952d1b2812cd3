// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/cosignwallet/diffsync"
	"github.com/btcsuite/cosignwallet/entitydb"
	"github.com/btcsuite/cosignwallet/internal/cfgutil"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/btcsuite/cosignwallet/projection"
	"github.com/btcsuite/cosignwallet/sqldb"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// defaultDBTimeout is how long opening the projection database waits for
// the file lock.
const defaultDBTimeout = 60 * time.Second

var (
	cfg *config
)

func main() {
	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s", version())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = interruptListener(ctx)

	svcs, err := openServices(ctx, cfg)
	if err != nil {
		log.Errorf("Unable to open wallet: %v", err)
		return err
	}
	defer svcs.close()

	svcs.logBalance(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if svcs.addressBook != nil {
		g.Go(func() error {
			return runAddressBookSync(gctx, svcs.addressBook)
		})
	}

	// Wait until the wallet is shut down.
	<-gctx.Done()
	if err := g.Wait(); err != nil {
		log.Errorf("Shutdown with error: %v", err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

// runAddressBookSync performs a first pass right away and then leaves the
// scheduler running until ctx is done.
func runAddressBookSync(ctx context.Context, s *diffsync.Scheduler) error {
	if err := s.Start(); err != nil {
		return err
	}

	if _, err := s.SyncNow(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("Initial address book sync failed: %v", err)
	}

	<-ctx.Done()
	return s.Stop()
}

// walletServices bundles the stores of a running wallet.
type walletServices struct {
	db *sqldb.DB
	kv walletdb.DB

	operations  *entitydb.Repository[ledger.Operation, *ledger.Operation]
	projections *projection.Cache

	// addressBook is nil when no contacts file exists.
	addressBook *diffsync.Scheduler
}

// openServices opens the databases of the active network and the stores
// kept in them.
func openServices(ctx context.Context, cfg *config) (_ *walletServices,
	err error) {

	netDir := networkDir(cfg.DataDir, activeNet)
	s := &walletServices{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.db, err = openSQLDB(cfg, netDir)
	if err != nil {
		return nil, err
	}

	s.operations, err = entitydb.NewRepository[ledger.Operation](
		ctx, s.db, "operations",
	)
	if err != nil {
		return nil, err
	}

	s.kv, err = openProjectionDB(filepath.Join(netDir, projectionDBName))
	if err != nil {
		return nil, err
	}
	s.projections, err = projection.NewCache(s.kv, s.operations)
	if err != nil {
		return nil, err
	}

	exists, err := cfgutil.FileExists(cfg.ContactsFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Infof("No address book at %s, contact sync disabled",
			cfg.ContactsFile)
		return s, nil
	}

	collection, err := diffsync.NewCollection(
		ctx, s.db, addressBookCollection, nil,
	)
	if err != nil {
		return nil, err
	}
	s.addressBook = diffsync.NewScheduler(diffsync.SchedulerConfig{
		Collection: collection,
		Source:     &addressBookSource{path: cfg.ContactsFile},
		Ticker:     ticker.New(cfg.SyncInterval),
		OnDiff:     logAddressBookDiff,
	})

	return s, nil
}

// openSQLDB opens the relational database selected by the dbbackend option.
func openSQLDB(cfg *config, netDir string) (*sqldb.DB, error) {
	backend, err := sqldb.ParseBackend(cfg.DBBackend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case sqldb.BackendPostgres:
		log.Infof("Opening Postgres database")
		return sqldb.NewPostgres(cfg.Postgres.DSN)

	default:
		path := filepath.Join(netDir, sqliteDBName)
		log.Infof("Opening SQLite database %s", path)
		return sqldb.NewSQLite(path)
	}
}

// openProjectionDB opens the projection database at path, creating it on
// first use.
func openProjectionDB(path string) (walletdb.DB, error) {
	exists, err := cfgutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		return walletdb.Open(
			"bdb", path, true, defaultDBTimeout, false,
		)
	}
	return walletdb.Create(
		"bdb", path, true, defaultDBTimeout, false,
	)
}

// logBalance reports the balance of the cached projection, if it is still
// current.
func (s *walletServices) logBalance(ctx context.Context) {
	p, err := s.projections.Get(ctx)
	if err != nil {
		log.Warnf("Unable to read balance projection: %v", err)
		return
	}
	if p.IsNone() {
		log.Infof("No current balance projection")
		return
	}
	p.WhenSome(func(p projection.BalanceProjection) {
		log.Infof("Balance %v as of operation %d", p.TotalBalance(),
			p.ValidAtOperationID.UnwrapOr(0))
	})
}

// close releases the databases.  It is safe to call on partially opened
// services.
func (s *walletServices) close() {
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			log.Errorf("Unable to close projection database: %v",
				err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Errorf("Unable to close database: %v", err)
		}
	}
}
