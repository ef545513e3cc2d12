// Package adapter discovers candidate hubs on management subnets.
// The sweep runs an nmap host scan over a CIDR, then probes each live
// host over SNMP to separate hubs from everything else on the subnet.
package adapter
