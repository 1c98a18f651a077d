package model

type Document struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Title         string          `json:"title"`
	ChunkCount    int             `json:"chunk_count"`
	LegacyContent string          `json:"legacy_content,omitempty"`
	Collaborators map[string]Role `json:"collaborators"`
	IsPublic      bool            `json:"is_public"`
	Ctime         int64           `json:"ctime"`
	Mtime         int64           `json:"mtime"`
}

// DocumentMeta is the metadata committed as the last step of a content write.
// ClearLegacy drops LegacyContent in the same commit that sets ChunkCount.
// RequireLegacy makes the commit conditional on the document still being legacy.
type DocumentMeta struct {
	ID            string
	ChunkCount    int
	ClearLegacy   bool
	RequireLegacy bool
	Mtime         int64
}

func (d *Document) CollaboratorRole(userID string) Role {
	if d == nil || userID == "" {
		return RoleNone
	}
	role, ok := d.Collaborators[userID]
	if !ok {
		return RoleNone
	}
	return role
}
