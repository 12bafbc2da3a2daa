package types

// RelDependsOn is the only relationship type the graph builder emits
const RelDependsOn = "DEPENDS_ON"

// RecordKind discriminates the GraphRecord variants
type RecordKind int

const (
	RecordNode RecordKind = iota + 1
	RecordEdge
	RecordRelated
	RecordEntity
)

// GraphRecord is a closed sum over the shapes returned by the knowledge
// graph. Switch on the concrete type or on RecordKind.
type GraphRecord interface {
	RecordKind() RecordKind
	graphRecord()
}

// NodeRecord is one graph node; there is one node per chunk
type NodeRecord struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	ChunkID   string    `json:"chunkId"`
	Name      string    `json:"name"`
	Type      ChunkType `json:"type"`
	FilePath  string    `json:"filePath"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
}

// EdgeRecord is a directed relationship between two nodes
type EdgeRecord struct {
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Type string `json:"type"`
}

// RelatedNode is a traversal hit at its shortest depth from the origin
type RelatedNode struct {
	Node             NodeRecord `json:"node"`
	RelationshipType string     `json:"relationshipType"`
	Depth            int        `json:"depth"`
}

// RelatedEntity is the compact form attached to search results
type RelatedEntity struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

func (NodeRecord) RecordKind() RecordKind    { return RecordNode }
func (EdgeRecord) RecordKind() RecordKind    { return RecordEdge }
func (RelatedNode) RecordKind() RecordKind   { return RecordRelated }
func (RelatedEntity) RecordKind() RecordKind { return RecordEntity }

func (NodeRecord) graphRecord()    {}
func (EdgeRecord) graphRecord()    {}
func (RelatedNode) graphRecord()   {}
func (RelatedEntity) graphRecord() {}

// EntityOf projects a graph record onto the RelatedEntity shape used in
// search results. Edges have no entity form.
func EntityOf(rec GraphRecord) (RelatedEntity, bool) {
	switch r := rec.(type) {
	case RelatedEntity:
		return r, true
	case RelatedNode:
		w := 1.0
		if r.Depth > 0 {
			w = 1.0 / float64(r.Depth)
		}
		return RelatedEntity{ID: r.Node.ChunkID, Name: r.Node.Name, Weight: w}, true
	case NodeRecord:
		return RelatedEntity{ID: r.ChunkID, Name: r.Name, Weight: 1}, true
	default:
		return RelatedEntity{}, false
	}
}
