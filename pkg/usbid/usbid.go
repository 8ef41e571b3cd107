package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database maps vendor and product IDs to names.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string
}

// Open parses the first of paths that exists. It returns an error
// wrapping fs.ErrNotExist when none does.
func Open(paths ...string) (*Database, error) {
	for _, path := range paths {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		db, err := Parse(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("usb.ids in %v: %w", paths, fs.ErrNotExist)
}

// Parse reads the usb.ids format: a vendor line "vvvv  name" followed by
// tab-indented "pppp  name" product lines. The class, language and other
// trailing sections are skipped.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
	sc := bufio.NewScanner(r)
	vendor, inVendor := uint16(0), false
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		indented := line[0] == '\t'
		if indented && (!inVendor || strings.HasPrefix(line, "\t\t")) {
			continue
		}
		id, name, ok := entry(strings.TrimPrefix(line, "\t"))
		switch {
		case !indented && ok:
			vendor, inVendor = id, true
			db.vendors[vendor] = name
		case !indented:
			inVendor = false
		case ok:
			db.products[key(vendor, id)] = name
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

// entry splits "xxxx  name".
func entry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(s[5:]), true
}

func key(vid, pid uint16) uint32 { return uint32(vid)<<16 | uint32(pid) }

// Vendor returns the name of vid, or "" if unknown.
func (db *Database) Vendor(vid uint16) string { return db.vendors[vid] }

// Product returns the name of pid under vid, or "" if unknown.
func (db *Database) Product(vid, pid uint16) string { return db.products[key(vid, pid)] }

// Len returns the number of vendors and products.
func (db *Database) Len() (vendors, products int) { return len(db.vendors), len(db.products) }

// Describe formats an ID pair as "vvvv:pppp" followed by whichever names
// are known. A nil Database describes just the IDs.
func (db *Database) Describe(vid, pid uint16) string {
	s := fmt.Sprintf("%04x:%04x", vid, pid)
	if db == nil {
		return s
	}
	if v := db.Vendor(vid); v != "" {
		s += " " + v
	}
	if p := db.Product(vid, pid); p != "" {
		s += " " + p
	}
	return s
}
