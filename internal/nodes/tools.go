package nodes

import (
	"context"
	"fmt"

	"eino_agent_router/internal/services"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// DocumentSearchToolName is the name the retrieval tool is registered under
const DocumentSearchToolName = "search_documents"

type searchInput struct {
	Query string `json:"query" jsonschema:"description=The question to look up in the document collection"`
}

type searchOutput struct {
	Context string `json:"context"`
}

// NewDocumentSearchTool exposes a Retriever as an eino tool
func NewDocumentSearchTool(r services.Retriever) (tool.InvokableTool, error) {
	t, err := utils.InferTool(DocumentSearchToolName, "Search the document collection for passages relevant to a question",
		func(ctx context.Context, in *searchInput) (*searchOutput, error) {
			text, err := r.Retrieve(ctx, in.Query)
			if err != nil {
				return nil, err
			}
			return &searchOutput{Context: text}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("error creating %s tool: %w", DocumentSearchToolName, err)
	}
	return t, nil
}

// SearchDocuments runs the retrieval tool for query and returns the context text
func SearchDocuments(ctx context.Context, t tool.InvokableTool, query string) (string, error) {
	args, err := sonic.MarshalString(searchInput{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal tool arguments: %w", err)
	}
	raw, err := t.InvokableRun(ctx, args)
	if err != nil {
		return "", err
	}
	var out searchOutput
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		return "", fmt.Errorf("unmarshal tool result: %w", err)
	}
	return out.Context, nil
}
