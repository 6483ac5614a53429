//go:build !unix

package daemon

func setOOMScoreAdj(int) error {
	return nil
}

func raiseFileLimit() (uint64, error) {
	return 0, nil
}
