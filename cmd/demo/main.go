// Demo program: exercises the storage core end to end against a fresh
// on-disk file — a B+Tree index, a hash index, a heap file, and a
// transaction that commits one row and aborts another.
// Run: go run ./cmd/demo
package main

import (
	"fmt"
	"log"
	"os"

	"latchdb/buffer"
	"latchdb/disk"
	"latchdb/heap"
	"latchdb/index/bplustree"
	"latchdb/index/hash"
	"latchdb/page"
	"latchdb/txn"
)

const dbPath = "demo.db"

func main() {
	os.Remove(dbPath)
	dm, err := disk.Open(dbPath)
	if err != nil {
		log.Fatalf("disk.Open: %v", err)
	}
	defer dm.Close()

	sched := disk.NewScheduler(dm)
	defer sched.Shutdown()

	pool := buffer.NewPool(64, 2, sched)

	fmt.Println("--- B+Tree index ---")
	treeHeader, err := pool.NewPage()
	if err != nil {
		log.Fatalf("NewPage: %v", err)
	}
	tree, err := bplustree.New(pool, treeHeader, bplustree.Config{LeafMaxSize: 4, InternalMaxSize: 4}, nil)
	if err != nil {
		log.Fatalf("bplustree.New: %v", err)
	}
	for i, k := range []string{"alice", "bob", "carol", "dave", "erin"} {
		if _, err := tree.Insert([]byte(k), bplustree.RID{PageID: page.ID(i), Slot: 0}); err != nil {
			log.Fatalf("tree.Insert(%s): %v", k, err)
		}
	}
	if rid, ok, err := tree.GetValue([]byte("carol")); err != nil {
		log.Fatalf("tree.GetValue: %v", err)
	} else {
		fmt.Printf("GetValue(carol) = %+v, found=%v\n", rid, ok)
	}

	fmt.Println("--- Hash index ---")
	hashHeader, err := pool.NewPage()
	if err != nil {
		log.Fatalf("NewPage: %v", err)
	}
	ht, err := hash.New(pool, hashHeader, hash.Config{HeaderMaxDepth: 2, DirMaxDepth: 4, BucketMaxSize: 4})
	if err != nil {
		log.Fatalf("hash.New: %v", err)
	}
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		if _, err := ht.Insert(key, hash.RID{PageID: page.ID(i), Slot: 0}); err != nil {
			log.Fatalf("ht.Insert: %v", err)
		}
	}
	if rid, ok, err := ht.GetValue([]byte("key-07")); err != nil {
		log.Fatalf("ht.GetValue: %v", err)
	} else {
		fmt.Printf("GetValue(key-07) = %+v, found=%v\n", rid, ok)
	}

	fmt.Println("--- Heap file + MVCC transaction ---")
	heapFirst, err := pool.NewPage()
	if err != nil {
		log.Fatalf("NewPage: %v", err)
	}
	hf, err := heap.New(pool, heapFirst)
	if err != nil {
		log.Fatalf("heap.New: %v", err)
	}

	mgr := txn.NewManager()

	committed := mgr.Begin(txn.SnapshotIsolation)
	keptRID, err := mgr.Insert(committed, hf, []byte("this row survives"))
	if err != nil {
		log.Fatalf("Insert: %v", err)
	}
	if err := mgr.Commit(committed); err != nil {
		log.Fatalf("Commit: %v", err)
	}

	rolledBack := mgr.Begin(txn.Serializable)
	droppedRID, err := mgr.Insert(rolledBack, hf, []byte("this row disappears"))
	if err != nil {
		log.Fatalf("Insert: %v", err)
	}
	if err := mgr.Abort(rolledBack); err != nil {
		log.Fatalf("Abort: %v", err)
	}

	reader := mgr.Begin(txn.SnapshotIsolation)
	if payload, ok, err := mgr.Reconstruct(reader, hf, keptRID); err != nil {
		log.Fatalf("Reconstruct: %v", err)
	} else {
		fmt.Printf("committed row visible=%v payload=%q\n", ok, payload)
	}
	if _, ok, err := mgr.Reconstruct(reader, hf, droppedRID); err != nil {
		log.Fatalf("Reconstruct: %v", err)
	} else {
		fmt.Printf("aborted row visible=%v\n", ok)
	}
	mgr.Abort(reader)

	fmt.Println("done")
}
