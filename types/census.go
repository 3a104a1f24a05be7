package types

const (
	// CensusTreeMaxLevels is the depth of the census Merkle trees voters
	// prove membership against before signing up.
	CensusTreeMaxLevels = 160
	// CensusKeyMaxLen is the maximum length of a census leaf key; longer
	// keys are hashed and truncated to this size.
	CensusKeyMaxLen = CensusTreeMaxLevels / 8
)

// CensusProof is a Merkle proof of membership in a census tree.
type CensusProof struct {
	Root     HexBytes `json:"root"`
	Key      HexBytes `json:"key"`
	Value    HexBytes `json:"value"`
	Siblings HexBytes `json:"siblings"`
	Weight   *BigInt  `json:"weight"`
}
