// Package nftsetup installs the nftables DNAT rule that redirects
// outbound traffic into a running Instance's listener, the local
// equivalent of the iptables REDIRECT rule this project's documentation
// assumes an operator has already set up (spec §6, "redirector ∈
// {iptables, pf, ipf, generic}").
//
// Grounded directly on the teacher repo's nft/nft.go CreateTable and
// CreateDNATRule, which built the same table/chain/rule shape to DNAT
// traffic toward a spoofed-address set; this package drops the
// spoofed_ips set and instead DNATs every TCP packet matching a
// configured destination port straight to the local Instance's bind
// address, the redirector's actual job.
package nftsetup

import (
	"fmt"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/impostorkeanu/redsocks-go/netutil"
)

const (
	TablePrefix = "redsocks_"
	ChainName   = "prerouting"
)

// TableName formats the nft table name for one Instance, keyed by a
// caller-chosen id (typically the instance's bind port).
func TableName(id string) string {
	return fmt.Sprintf("%s%s", TablePrefix, id)
}

// WarnStaleTables logs any pre-existing table left over from a previous
// run that was not torn down cleanly.
func WarnStaleTables(conn *nftables.Conn, log *zap.Logger) error {
	tables, err := conn.ListTables()
	if err != nil {
		return fmt.Errorf("failed to list nft tables: %w", err)
	}
	for _, t := range tables {
		if strings.HasPrefix(t.Name, TablePrefix) {
			log.Warn("stale redsocks nft table from a previous run", zap.String("table_name", t.Name))
		}
	}
	return nil
}

// CreateTable creates the nat-type prerouting table+chain this package's
// DNAT rules attach to.
func CreateTable(conn *nftables.Conn, name string) (*nftables.Table, error) {
	tbl := &nftables.Table{Name: name, Family: nftables.TableFamilyIPv4}
	conn.CreateTable(tbl)
	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to create nft table: %w", err)
	}
	tbl, err := conn.ListTable(tbl.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load newly created nft table: %w", err)
	}

	pri := nftables.ChainPriority(-100)
	pol := nftables.ChainPolicyAccept
	conn.AddChain(&nftables.Chain{
		Name:     ChainName,
		Table:    tbl,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: &pri,
		Type:     nftables.ChainTypeNAT,
		Policy:   &pol,
	})
	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to create prerouting chain: %w", err)
	}
	return tbl, nil
}

// CreateRedirectRule adds a rule DNATing TCP packets whose destination
// port is interceptPort to bindAddr (an Instance's listener address).
// Call CreateTable first.
func CreateRedirectRule(conn *nftables.Conn, tbl *nftables.Table, interceptPort uint16, bindAddr netutil.Addr) (*nftables.Rule, error) {
	chain, err := conn.ListChain(tbl, ChainName)
	if err != nil {
		return nil, fmt.Errorf("failed to get nft chain: %w", err)
	}

	dnatIP := bindAddr.IP.To4()
	dnatPort := binaryutil.BigEndian.PutUint16(bindAddr.Port)
	matchPort := binaryutil.BigEndian.PutUint16(interceptPort)

	rule := conn.AddRule(&nftables.Rule{
		Table: tbl,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []uint8{netutil.TCPProtoNumber}},
			&expr.Payload{
				OperationType: expr.PayloadLoad,
				DestRegister:  1,
				Base:          expr.PayloadBaseTransportHeader,
				Offset:        2,
				Len:           2,
			},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: matchPort},
			&expr.Counter{},
			&expr.Immediate{Register: 1, Data: dnatIP},
			&expr.Immediate{Register: 2, Data: dnatPort},
			&expr.NAT{
				Type:        expr.NATTypeDestNAT,
				Family:      unix.NFPROTO_IPV4,
				RegAddrMin:  1,
				RegAddrMax:  1,
				RegProtoMin: 2,
				RegProtoMax: 2,
				Specified:   true,
			},
		},
	})

	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush nft connection after creating redirect rule: %w", err)
	}
	return rule, nil
}

// DeleteTable tears down a table created by CreateTable, removing every
// rule it holds.
func DeleteTable(conn *nftables.Conn, tbl *nftables.Table) error {
	conn.DelTable(tbl)
	return conn.Flush()
}
