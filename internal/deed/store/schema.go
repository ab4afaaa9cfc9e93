package store

import _ "embed"

// Schema is the reference DDL for the issuance tables.
//
//go:embed schema.sql
var Schema string
