package services

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const firstUID = 10000

var (
	bucketAccounts = []byte("accounts")
	bucketPlayers  = []byte("players")
	bucketLanguage = []byte("language")
)

// AccountDirectory maps account ids to player ids.
type AccountDirectory interface {
	PlayerID(account string) (uid uint32, created bool, err error)
}

// PlayerStore keeps opaque player state. The gateway never interprets it.
type PlayerStore interface {
	LoadPlayer(uid uint32) ([]byte, error)
	SavePlayer(uid uint32, data []byte) error
}

// BoltStore is the on-disk AccountDirectory, PlayerStore and LanguageSink.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketPlayers, bucketLanguage} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init store buckets")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func uidBytes(uid uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uid)
	return b[:]
}

// PlayerID returns the uid bound to account, allocating the next one on
// first sight. Allocation runs inside one write transaction.
func (s *BoltStore) PlayerID(account string) (uint32, bool, error) {
	var uid uint32
	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if v := b.Get([]byte(account)); v != nil {
			uid = binary.BigEndian.Uint32(v)
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		uid = uint32(firstUID + seq)
		created = true
		return b.Put([]byte(account), uidBytes(uid))
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "allocate player id")
	}
	return uid, created, nil
}

// LoadPlayer returns nil data for a player that was never saved.
func (s *BoltStore) LoadPlayer(uid uint32) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketPlayers).Get(uidBytes(uid)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func (s *BoltStore) SavePlayer(uid uint32, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlayers).Put(uidBytes(uid), data)
	})
}

func (s *BoltStore) SaveLanguage(uid uint32, lang string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLanguage).Put(uidBytes(uid), []byte(lang))
	})
}

func (s *BoltStore) LoadLanguage(uid uint32) (string, error) {
	var lang string
	err := s.db.View(func(tx *bolt.Tx) error {
		lang = string(tx.Bucket(bucketLanguage).Get(uidBytes(uid)))
		return nil
	})
	return lang, err
}
