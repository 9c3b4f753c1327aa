/*
NAME
	helpers.go

DESCRIPTION
  helpers.go provides small helpers for reading byte slices directly.
	No other package calls them.

AUTHOR
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/


package psi

func trimTo(d []byte, t byte) []byte {
	for i, b := range d {
		if b == t {
			return d[:i]
		}
	}
	return d
}
