package snmp

// Standard MIB-II OIDs
const (
	OIDSysDescr    = "1.3.6.1.2.1.1.1.0"
	OIDSysUptime   = "1.3.6.1.2.1.1.3.0"
	OIDSysContact  = "1.3.6.1.2.1.1.4.0"
	OIDSysName     = "1.3.6.1.2.1.1.5.0"
	OIDSysLocation = "1.3.6.1.2.1.1.6.0"

	OIDIfName        = "1.3.6.1.2.1.31.1.1.1.1"
	OIDIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	OIDIfAlias       = "1.3.6.1.2.1.31.1.1.1.18"
	OIDIfAdminStatus = "1.3.6.1.2.1.2.2.1.7"
	OIDIfOperStatus  = "1.3.6.1.2.1.2.2.1.8"

	// hrSystemUptime, fallback when sysUpTime wraps or is missing
	OIDHrSystemUptime = "1.3.6.1.2.1.25.1.1.0"
)

// BDCOM private OIDs (enterprise 3320)
const (
	OIDCPUUsage  = "1.3.6.1.4.1.3320.9.109.1.1.1.1.0"
	OIDMemUsage  = "1.3.6.1.4.1.3320.9.48.1.0"
	OIDBoardTemp = "1.3.6.1.4.1.3320.9.181.1.1.7.0"
	OIDHubReboot = "1.3.6.1.4.1.3320.9.1847.0"

	// GPON binding table: .<ifIndex>.<slot> = STRING: "<serial>"
	OIDGponBindSerial = "1.3.6.1.4.1.3320.10.2.6.1.3"

	// Per-endpoint tables indexed by the hub-local global endpoint index
	OIDGponStatus      = "1.3.6.1.4.1.3320.10.3.3.1.4"
	OIDGponSerialTable = "1.3.6.1.4.1.3320.10.3.1.1.4"
	OIDGponVendor      = "1.3.6.1.4.1.3320.10.3.1.1.2"
	OIDGponRxPower     = "1.3.6.1.4.1.3320.10.3.4.1.2"
	OIDGponTxPower     = "1.3.6.1.4.1.3320.10.3.4.1.3"
	OIDGponDistance    = "1.3.6.1.4.1.3320.10.3.1.1.33"
	OIDGponLastDown    = "1.3.6.1.4.1.3320.10.3.1.1.35"
	OIDGponReset       = "1.3.6.1.4.1.3320.10.3.2.1.4"

	// PON port optics, tenths of dBm
	OIDPonPortTx = "1.3.6.1.4.1.3320.10.2.2.1.5"
	OIDPonPortRx = "1.3.6.1.4.1.3320.10.2.3.1.3"
)
