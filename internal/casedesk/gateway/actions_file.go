package gateway

import "context"

// UploadFile is one file in a file.upload batch. Content is passed through
// as the backend expects it; encoding is the caller's concern.
type UploadFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content"`
}

func (c *Client) UploadFiles(ctx context.Context, caseFolderID string, files []UploadFile) (*Response, error) {
	return c.Send(ctx, "file.upload", map[string]any{"caseFolderId": caseFolderID, "files": files})
}

func (c *Client) ListFiles(ctx context.Context, folderID string) (*Response, error) {
	return c.Send(ctx, "file.list", map[string]string{"folderId": folderID})
}

func (c *Client) DownloadFile(ctx context.Context, fileID string) (*Response, error) {
	return c.Send(ctx, "file.download", map[string]string{"fileId": fileID})
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) (*Response, error) {
	return c.Send(ctx, "file.delete", map[string]string{"fileId": fileID})
}

func (c *Client) RenameFile(ctx context.Context, fileID, newName string) (*Response, error) {
	return c.Send(ctx, "file.rename", map[string]string{"fileId": fileID, "newName": newName})
}

// DeleteFolder requires the caller to echo the confirmation phrase shown to
// the user.
func (c *Client) DeleteFolder(ctx context.Context, folderID, confirmation string) (*Response, error) {
	return c.Send(ctx, "folder.delete", map[string]string{"folderId": folderID, "confirmation": confirmation})
}

// Folder-oriented file actions kept for older backends.

func (c *Client) SearchClientFolder(ctx context.Context, firstName, lastName, idCardNo string) (*Response, error) {
	return c.Send(ctx, "file.searchClientFolder", map[string]string{
		"firstName": firstName,
		"lastName":  lastName,
		"idCardNo":  idCardNo,
	})
}

func (c *Client) CreateClientFolder(ctx context.Context, firstName, lastName, idCardNo, telephone, email string) (*Response, error) {
	return c.Send(ctx, "file.createClientFolder", map[string]string{
		"firstName": firstName,
		"lastName":  lastName,
		"idCardNo":  idCardNo,
		"telephone": telephone,
		"email":     email,
	})
}

func (c *Client) CreateCaseFolder(ctx context.Context, clientFolderID, caseID string) (*Response, error) {
	return c.Send(ctx, "file.createCaseFolder", map[string]string{"clientFolderId": clientFolderID, "caseId": caseID})
}

func (c *Client) ListFolders(ctx context.Context, folderID string) (*Response, error) {
	return c.Send(ctx, "file.listFolders", map[string]string{"folderId": folderID})
}

func (c *Client) ListFolderFiles(ctx context.Context, folderID string) (*Response, error) {
	return c.Send(ctx, "file.listFiles", map[string]string{"folderId": folderID})
}

func (c *Client) ListFolderContents(ctx context.Context, folderID string) (*Response, error) {
	return c.Send(ctx, "file.listFolderContents", map[string]string{"folderId": folderID})
}

func (c *Client) UploadFileToFolder(ctx context.Context, folderID, fileName, fileBlob string) (*Response, error) {
	return c.Send(ctx, "file.uploadFile", map[string]string{
		"folderId": folderID,
		"fileName": fileName,
		"fileBlob": fileBlob,
	})
}

// ResolveFileConflict retries an upload that collided with an existing name.
// resolution is one of the backend's strategies (overwrite, rename, skip).
func (c *Client) ResolveFileConflict(ctx context.Context, folderID, fileName, fileBlob, resolution string) (*Response, error) {
	return c.Send(ctx, "file.resolveFileConflict", map[string]string{
		"folderId":   folderID,
		"fileName":   fileName,
		"fileBlob":   fileBlob,
		"resolution": resolution,
	})
}

func (c *Client) DownloadFolderFile(ctx context.Context, fileID string) (*Response, error) {
	return c.Send(ctx, "file.downloadFile", map[string]string{"fileId": fileID})
}

func (c *Client) DeleteFolderFile(ctx context.Context, fileID string) (*Response, error) {
	return c.Send(ctx, "file.deleteFile", map[string]string{"fileId": fileID})
}

func (c *Client) GetCaseFolderStructure(ctx context.Context, caseID string) (*Response, error) {
	return c.Send(ctx, "file.getCaseFolderStructure", map[string]string{"caseId": caseID})
}

func (c *Client) SearchFiles(ctx context.Context, searchTerm string) (*Response, error) {
	return c.Send(ctx, "file.searchFiles", map[string]string{"searchTerm": searchTerm})
}
