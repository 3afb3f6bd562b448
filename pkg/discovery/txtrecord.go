package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeBridgeTXT creates the TXT records of a bridge advertisement.
func EncodeBridgeTXT(info *BridgeInfo) TXTRecordMap {
	version := info.Version
	if version == 0 {
		version = ProtocolVersion
	}
	return TXTRecordMap{
		TXTKeyNetwork: info.Network,
		TXTKeyVersion: strconv.Itoa(version),
	}
}

// DecodeBridgeTXT parses the TXT records of a bridge advertisement.
func DecodeBridgeTXT(txt TXTRecordMap) (network string, version int, err error) {
	network, ok := txt[TXTKeyNetwork]
	if !ok || network == "" {
		return "", 0, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNetwork)
	}

	verStr, ok := txt[TXTKeyVersion]
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	version, err = strconv.Atoi(verStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, verStr)
	}
	if version != ProtocolVersion {
		return "", 0, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	return network, version, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found {
			txt[k] = v
		} else if k != "" {
			// Key without value (boolean flag)
			txt[k] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return ErrEmptyInstanceName
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
