// Package stage persists measurements through the raw, bronze and silver
// layers as zstd-compressed parquet files.
//
// Layout:
//
//	<raw>/<group>/<from>_<to>_R<res>_T<type>.parquet   one file per fetched batch
//	<bronze>/<group>_<minStart>_<maxStart>.parquet     merged, deduplicated group
//	<silver>/<group>.parquet                           reconstructed hourly series
//
// Every file is written to a temporary name in its target directory and
// renamed into place, so readers never observe a partial file.
package stage
