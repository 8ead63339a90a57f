package postgres

// oidToTypeName maps the subset of well-known Postgres type OIDs that
// internal/typemap knows how to translate. For types outside this table
// the decoder falls back to "text", which typemap.MapType maps to String.
var oidToTypeName = map[uint32]string{
	16:   "bool",
	17:   "bytea",
	20:   "int8",
	21:   "int2",
	23:   "int4",
	25:   "text",
	114:  "json",
	700:  "float4",
	701:  "float8",
	1000: "_bool",
	1005: "_int2",
	1007: "_int4",
	1009: "_text",
	1015: "_varchar",
	1016: "_int8",
	1021: "_float4",
	1022: "_float8",
	1042: "bpchar",
	1043: "varchar",
	1082: "date",
	1114: "timestamp",
	1184: "timestamptz",
	1700: "numeric",
	2950: "uuid",
	3802: "jsonb",
	1231: "_numeric",
}

func typeNameForOID(oid uint32) (string, bool) {
	name, ok := oidToTypeName[oid]
	return name, ok
}
