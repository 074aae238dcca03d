// Command otcalign aligns imperfect transcripts against acoustic model output.
//
//	otcalign align --emissions out.gob --manifest cuts.tsv --test-set test-clean
//	otcalign graph --tokens tokens.txt ▁the ▁cat s
//	otcalign config init
package main
