// internal/discovery/usb/database.go
package usb

import (
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// BridgeDatabase identifies USB-UART bridge chips by vendor and product ID
type BridgeDatabase struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[gousb.ID]string
}

// NewBridgeDatabase creates the bridge table
func NewBridgeDatabase() *BridgeDatabase {
	db := &BridgeDatabase{
		vendors: make(map[gousb.ID]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *BridgeDatabase) initializeDatabase() {
	db.AddVendor(0x0403, "FTDI", map[gousb.ID]string{
		0x6001: "FT232R",
		0x6010: "FT2232",
		0x6011: "FT4232",
		0x6014: "FT232H",
		0x6015: "FT-X",
	})
	db.AddVendor(0x10C4, "Silicon Labs", map[gousb.ID]string{
		0xEA60: "CP210x",
		0xEA70: "CP2105",
	})
	db.AddVendor(0x1A86, "WCH", map[gousb.ID]string{
		0x7523: "CH340",
		0x55D4: "CH9102",
	})
	db.AddVendor(0x067B, "Prolific", map[gousb.ID]string{
		0x2303: "PL2303",
	})
	// NXP debug probes expose the controller's UART as a CDC-ACM port
	db.AddVendor(0x1FC9, "NXP", map[gousb.ID]string{
		0x0143: "MCU-Link",
		0x0090: "LPC-Link2",
	})
}

// AddVendor adds or replaces a vendor and its products
func (db *BridgeDatabase) AddVendor(vendorID gousb.ID, name string, products map[gousb.ID]string) {
	if products == nil {
		products = make(map[gousb.ID]string)
	}
	db.vendors[vendorID] = &VendorInfo{Name: name, products: products}
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *BridgeDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// Identify returns a bridge description such as "FTDI FT232R". Unknown
// products of a known vendor are reported by vendor name alone.
func (db *BridgeDatabase) Identify(vendorID, productID gousb.ID) (string, bool) {
	vendor, exists := db.vendors[vendorID]
	if !exists {
		return "", false
	}
	if product, ok := vendor.products[productID]; ok {
		return vendor.Name + " " + product, true
	}
	return vendor.Name, true
}

// IdentifyHex is Identify for hex strings as reported by the serial enumerator
func (db *BridgeDatabase) IdentifyHex(vid, pid string) (string, bool) {
	v, err := parseID(vid)
	if err != nil {
		return "", false
	}
	p, err := parseID(pid)
	if err != nil {
		p = 0
	}
	return db.Identify(v, p)
}

func parseID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(n), nil
}
