// Package snmp implements the device query interface over SNMP v2c.
// Table walks are rendered to net-snmp-style text lines so the dump
// parser sees the same shape regardless of transport; a failed walk is
// reported as an error, never as an empty line set.
package snmp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Client issues walks and sets against hub management interfaces.
// A fresh connection is opened per call; hubs are polled concurrently
// and gosnmp connections are not safe to share.
type Client struct {
	Port    uint16
	Timeout time.Duration
	Retries int
}

// NewClient creates a client with the given per-request timeout
func NewClient(timeout time.Duration, retries int) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if retries < 0 {
		retries = 1
	}
	return &Client{Port: 161, Timeout: timeout, Retries: retries}
}

func (c *Client) connect(ctx context.Context, target, community string) (*gosnmp.GoSNMP, error) {
	g := &gosnmp.GoSNMP{
		Target:             target,
		Port:               c.Port,
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            c.Timeout,
		Retries:            c.Retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     25,
		ExponentialTimeout: true,
		Context:            ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", target, err)
	}
	return g, nil
}

// Walk fetches one OID subtree and returns it as ordered text lines,
// one `<oid> = <TYPE>: <value>` line per varbind
func (c *Client) Walk(ctx context.Context, target, community, oid string) ([]string, error) {
	g, err := c.connect(ctx, target, community)
	if err != nil {
		return nil, err
	}
	defer g.Conn.Close()

	var lines []string
	err = g.BulkWalk(normalizeOID(oid), func(pdu gosnmp.SnmpPDU) error {
		lines = append(lines, formatPDU(pdu))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s on %s: %w", oid, target, err)
	}
	return lines, nil
}

// Set issues a single SNMP SET. typeTag follows the net-snmp convention:
// i (integer), u (unsigned), t (timeticks), a (ip address), o (oid),
// s/x/d/b (octet string variants).
func (c *Client) Set(ctx context.Context, target, community, oid, typeTag, value string) error {
	pdu, err := buildSetPDU(normalizeOID(oid), typeTag, value)
	if err != nil {
		return err
	}

	g, err := c.connect(ctx, target, community)
	if err != nil {
		return err
	}
	defer g.Conn.Close()

	result, err := g.Set([]gosnmp.SnmpPDU{pdu})
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", oid, target, err)
	}
	if result.Error != gosnmp.NoError {
		return fmt.Errorf("set %s on %s: device returned %v", oid, target, result.Error)
	}
	return nil
}

// buildSetPDU converts a net-snmp style (type tag, value) pair to a PDU
func buildSetPDU(oid, typeTag, value string) (gosnmp.SnmpPDU, error) {
	switch strings.ToLower(typeTag) {
	case "i":
		n, err := strconv.Atoi(value)
		if err != nil {
			return gosnmp.SnmpPDU{}, fmt.Errorf("integer value %q: %w", value, err)
		}
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Integer, Value: n}, nil
	case "u":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return gosnmp.SnmpPDU{}, fmt.Errorf("unsigned value %q: %w", value, err)
		}
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Gauge32, Value: uint32(n)}, nil
	case "t":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return gosnmp.SnmpPDU{}, fmt.Errorf("timeticks value %q: %w", value, err)
		}
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.TimeTicks, Value: uint32(n)}, nil
	case "a":
		if net.ParseIP(value) == nil {
			return gosnmp.SnmpPDU{}, fmt.Errorf("ip value %q is not an address", value)
		}
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.IPAddress, Value: value}, nil
	case "o":
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.ObjectIdentifier, Value: value}, nil
	case "s", "x", "d", "b", "":
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.OctetString, Value: value}, nil
	default:
		return gosnmp.SnmpPDU{}, fmt.Errorf("unknown set type tag %q", typeTag)
	}
}

// formatPDU renders a varbind the way net-snmp would print it
func formatPDU(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return fmt.Sprintf("%s = STRING: \"%v\"", pdu.Name, pdu.Value)
		}
		return fmt.Sprintf("%s = STRING: \"%s\"", pdu.Name, string(b))
	case gosnmp.Integer:
		return fmt.Sprintf("%s = INTEGER: %d", pdu.Name, gosnmp.ToBigInt(pdu.Value))
	case gosnmp.Gauge32:
		return fmt.Sprintf("%s = Gauge32: %d", pdu.Name, gosnmp.ToBigInt(pdu.Value))
	case gosnmp.Counter32:
		return fmt.Sprintf("%s = Counter32: %d", pdu.Name, gosnmp.ToBigInt(pdu.Value))
	case gosnmp.Counter64:
		return fmt.Sprintf("%s = Counter64: %d", pdu.Name, gosnmp.ToBigInt(pdu.Value))
	case gosnmp.TimeTicks:
		return fmt.Sprintf("%s = Timeticks: (%d)", pdu.Name, gosnmp.ToBigInt(pdu.Value))
	case gosnmp.IPAddress:
		return fmt.Sprintf("%s = IpAddress: %v", pdu.Name, pdu.Value)
	case gosnmp.ObjectIdentifier:
		return fmt.Sprintf("%s = OID: %v", pdu.Name, pdu.Value)
	default:
		return fmt.Sprintf("%s = %v", pdu.Name, pdu.Value)
	}
}

// normalizeOID ensures the leading dot gosnmp expects
func normalizeOID(oid string) string {
	if strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}
